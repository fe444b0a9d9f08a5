package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/agentgraph/types"
)

// FormatVersion 当前检查点格式版本
const FormatVersion = 1

// Status 执行状态
type Status string

const (
	StatusRunning     Status = "running"
	StatusInterrupted Status = "interrupted"
	StatusCompleted   Status = "completed"
	StatusRejected    Status = "rejected"
	StatusFailed      Status = "failed"
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// Phase 中断发生在节点执行之前还是之后
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// Interrupt 等待人工决策的中断点
type Interrupt struct {
	ID        string         `json:"id"`
	NodeID    string         `json:"node_id"`
	Phase     Phase          `json:"phase"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// UnitProgress 单个调度单元的进度
type UnitProgress struct {
	Status       string   `json:"status"`
	Agent        string   `json:"agent,omitempty"`
	Attempts     int      `json:"attempts"`
	AgentHistory []string `json:"agent_history,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// BatchProgress 批次调度进度；Layer 为已完成的层数
type BatchProgress struct {
	Layer       int                     `json:"layer"`
	TotalLayers int                     `json:"total_layers"`
	Layers      [][]string              `json:"layers"`
	Units       map[string]UnitProgress `json:"units"`
}

// GraphCheckpoint 执行快照
type GraphCheckpoint struct {
	FormatVersion     int            `json:"format_version"`
	ExecutionID       string         `json:"execution_id"`
	SessionID         string         `json:"session_id,omitempty"`
	GraphName         string         `json:"graph_name,omitempty"`
	SchemaHash        string         `json:"schema_hash,omitempty"`
	CurrentNode       string         `json:"current_node,omitempty"`
	Input             string         `json:"input,omitempty"`
	Data              map[string]any `json:"data,omitempty"`
	Channels          map[string]any `json:"channels,omitempty"`
	PendingInterrupts []Interrupt    `json:"pending_interrupts,omitempty"`
	Iteration         int            `json:"iteration"`
	Visits            map[string]int `json:"visits,omitempty"`
	Status            Status         `json:"status"`
	Batch             *BatchProgress `json:"batch,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// Validate 检查快照是否可被保存或恢复
func (c *GraphCheckpoint) Validate() error {
	if c == nil {
		return types.NewError(types.ErrCheckpointIO, "checkpoint is nil")
	}
	if c.ExecutionID == "" {
		return types.NewError(types.ErrCheckpointIO, "checkpoint has no execution id")
	}
	if c.FormatVersion != FormatVersion {
		return types.Errorf(types.ErrCheckpointMismatch,
			"checkpoint %s has format version %d, expected %d", c.ExecutionID, c.FormatVersion, FormatVersion)
	}
	if c.Timestamp.IsZero() {
		return types.Errorf(types.ErrCheckpointIO, "checkpoint %s has no timestamp", c.ExecutionID)
	}
	return nil
}

// PendingInterrupt 返回第一个待处理中断
func (c *GraphCheckpoint) PendingInterrupt() (*Interrupt, bool) {
	if len(c.PendingInterrupts) == 0 {
		return nil, false
	}
	intr := c.PendingInterrupts[0]
	return &intr, true
}

// Clone 深拷贝
func (c *GraphCheckpoint) Clone() (*GraphCheckpoint, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return decode(data)
}

// ErrStale 写入的检查点早于已保存的版本
var ErrStale = errors.New("checkpoint is older than the stored one")

// ErrNotFound 可用于 errors.Is 判断检查点不存在
var ErrNotFound = types.NewError(types.ErrCheckpointNotFound, "checkpoint not found")

func notFound(id string) *types.Error {
	return types.Errorf(types.ErrCheckpointNotFound, "checkpoint %s not found", id)
}

func ioError(op, id string, err error) *types.Error {
	return types.Errorf(types.ErrCheckpointIO, "checkpoint %s %s failed", id, op).WithCause(err)
}

// encode 校验并序列化，返回数据与用于比较新旧的时间戳
func encode(id string, cp *GraphCheckpoint) ([]byte, int64, error) {
	if err := cp.Validate(); err != nil {
		return nil, 0, err
	}
	if cp.ExecutionID != id {
		return nil, 0, types.Errorf(types.ErrCheckpointIO,
			"checkpoint execution id %s does not match key %s", cp.ExecutionID, id)
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return data, cp.Timestamp.UnixNano(), nil
}

func decode(data []byte) (*GraphCheckpoint, error) {
	var cp GraphCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}
