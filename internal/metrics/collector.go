// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有 Record 方法在 nil 接收者上是空操作。
type Collector struct {
	// 图引擎指标
	nodeExecutionsTotal *prometheus.CounterVec
	nodeDuration        *prometheus.HistogramVec
	graphRunsTotal      *prometheus.CounterVec
	transfersTotal      *prometheus.CounterVec

	// 调度器指标
	unitsTotal       *prometheus.CounterVec
	unitRetriesTotal *prometheus.CounterVec
	layerDuration    *prometheus.HistogramVec

	// 门禁指标
	gateResultsTotal *prometheus.CounterVec
	gateDuration     *prometheus.HistogramVec

	// 检查点指标
	checkpointOpsTotal  *prometheus.CounterVec
	checkpointOpLatency *prometheus.HistogramVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到 prometheus.DefaultRegisterer。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 图引擎指标
	c.nodeExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_node_executions_total",
			Help:      "Total number of graph node executions",
		},
		[]string{"graph", "node", "status"},
	)

	c.nodeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_node_duration_seconds",
			Help:      "Graph node execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"graph", "node"},
	)

	c.graphRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_runs_total",
			Help:      "Total number of graph runs by final status",
		},
		[]string{"graph", "status"},
	)

	c.transfersTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_transfers_total",
			Help:      "Total number of agent transfers",
		},
		[]string{"from", "to"},
	)

	// 调度器指标
	c.unitsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_units_total",
			Help:      "Total number of scheduled units by terminal status",
		},
		[]string{"status"},
	)

	c.unitRetriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_unit_retries_total",
			Help:      "Total number of unit retries with an alternate agent",
		},
		[]string{"agent"},
	)

	c.layerDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_layer_duration_seconds",
			Help:      "Duration of one scheduling layer in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"status"},
	)

	// 门禁指标
	c.gateResultsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_results_total",
			Help:      "Total number of quality gate results",
		},
		[]string{"phase", "gate", "status"},
	)

	c.gateDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gate_duration_seconds",
			Help:      "Quality gate duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase", "gate"},
	)

	// 检查点指标
	c.checkpointOpsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_operations_total",
			Help:      "Total number of checkpoint store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	c.checkpointOpLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_operation_duration_seconds",
			Help:      "Checkpoint store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🕸️ 图引擎指标记录
// =============================================================================

// RecordNodeExecution 记录节点执行
func (c *Collector) RecordNodeExecution(graph, node, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.nodeExecutionsTotal.WithLabelValues(graph, node, status).Inc()
	c.nodeDuration.WithLabelValues(graph, node).Observe(duration.Seconds())
}

// RecordGraphRun 记录一次运行的最终状态
func (c *Collector) RecordGraphRun(graph, status string) {
	if c == nil {
		return
	}
	c.graphRunsTotal.WithLabelValues(graph, status).Inc()
}

// RecordTransfer 记录智能体转交
func (c *Collector) RecordTransfer(from, to string) {
	if c == nil {
		return
	}
	c.transfersTotal.WithLabelValues(from, to).Inc()
}

// =============================================================================
// 📦 调度器指标记录
// =============================================================================

// RecordUnit 记录单元的终态
func (c *Collector) RecordUnit(status string) {
	if c == nil {
		return
	}
	c.unitsTotal.WithLabelValues(status).Inc()
}

// RecordUnitRetry 记录换用 agent 的重试
func (c *Collector) RecordUnitRetry(agent string) {
	if c == nil {
		return
	}
	c.unitRetriesTotal.WithLabelValues(agent).Inc()
}

// RecordLayer 记录一个调度层的耗时
func (c *Collector) RecordLayer(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.layerDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// =============================================================================
// 🚦 门禁指标记录
// =============================================================================

// RecordGate 记录门禁结果
func (c *Collector) RecordGate(phase, gate, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.gateResultsTotal.WithLabelValues(phase, gate, status).Inc()
	c.gateDuration.WithLabelValues(phase, gate).Observe(duration.Seconds())
}

// =============================================================================
// 💾 检查点指标记录
// =============================================================================

// RecordCheckpointOp 记录检查点存储操作
func (c *Collector) RecordCheckpointOp(backend, operation string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	c.checkpointOpsTotal.WithLabelValues(backend, operation, status(err)).Inc()
	c.checkpointOpLatency.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// status 将错误转换为状态标签
func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
