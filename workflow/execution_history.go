package workflow

import (
	"sync"
	"time"
)

// NodeStatus 单次节点进入的结果
type NodeStatus string

const (
	NodeStatusRunning     NodeStatus = "running"
	NodeStatusCompleted   NodeStatus = "completed"
	NodeStatusFailed      NodeStatus = "failed"
	NodeStatusInterrupted NodeStatus = "interrupted"
)

// NodeExecution 记录一次节点进入
type NodeExecution struct {
	NodeID    string        `json:"node_id"`
	Agent     string        `json:"agent"`
	Iteration int           `json:"iteration"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Status    NodeStatus    `json:"status"`
	Output    string        `json:"output,omitempty"`
	Updates   int           `json:"updates"`
	Transfers int           `json:"transfers"`
	Error     string        `json:"error,omitempty"`
}

// ExecutionHistory 记录一次运行（含恢复后的续跑）经过的节点路径
type ExecutionHistory struct {
	ExecutionID string           `json:"execution_id"`
	GraphName   string           `json:"graph_name"`
	StartTime   time.Time        `json:"start_time"`
	Nodes       []*NodeExecution `json:"nodes"`
	mu          sync.RWMutex
}

// NewExecutionHistory creates a new execution history
func NewExecutionHistory(executionID, graphName string) *ExecutionHistory {
	return &ExecutionHistory{
		ExecutionID: executionID,
		GraphName:   graphName,
		StartTime:   time.Now(),
		Nodes:       make([]*NodeExecution, 0),
	}
}

// RecordNodeStart 记录节点开始执行
func (h *ExecutionHistory) RecordNodeStart(nodeID, agentName string, iteration int) *NodeExecution {
	h.mu.Lock()
	defer h.mu.Unlock()

	node := &NodeExecution{
		NodeID:    nodeID,
		Agent:     agentName,
		Iteration: iteration,
		StartTime: time.Now(),
		Status:    NodeStatusRunning,
	}
	h.Nodes = append(h.Nodes, node)
	return node
}

// RecordNodeEnd 记录节点结束
func (h *ExecutionHistory) RecordNodeEnd(node *NodeExecution, res *nodeResult, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	node.EndTime = time.Now()
	node.Duration = node.EndTime.Sub(node.StartTime)
	if res != nil {
		node.Output = res.output
		node.Updates = len(res.updates)
		node.Transfers = res.transfers
	}
	if err != nil {
		node.Status = NodeStatusFailed
		node.Error = err.Error()
	} else {
		node.Status = NodeStatusCompleted
	}
}

// RecordInterrupt 记录在节点处发生的中断
func (h *ExecutionHistory) RecordInterrupt(nodeID string, iteration int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	h.Nodes = append(h.Nodes, &NodeExecution{
		NodeID:    nodeID,
		Iteration: iteration,
		StartTime: now,
		EndTime:   now,
		Status:    NodeStatusInterrupted,
	})
}

// GetNodes 返回节点记录的副本
func (h *ExecutionHistory) GetNodes() []*NodeExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()

	nodes := make([]*NodeExecution, len(h.Nodes))
	copy(nodes, h.Nodes)
	return nodes
}

// Path 返回已完成执行的节点 ID 序列
func (h *ExecutionHistory) Path() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	path := make([]string, 0, len(h.Nodes))
	for _, n := range h.Nodes {
		if n.Status == NodeStatusCompleted {
			path = append(path, n.NodeID)
		}
	}
	return path
}
