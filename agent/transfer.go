package agent

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/agentgraph/types"
)

// TransferToolName 是 LLM 触发转交使用的工具名
const TransferToolName = "transfer_to_agent"

// transferArgs transfer_to_agent 工具参数
type transferArgs struct {
	Agent  string `json:"agent"`
	Reason string `json:"reason,omitempty"`
	Input  string `json:"input,omitempty"`
}

// ParseTransferArgs 解析 transfer_to_agent 的参数
func ParseTransferArgs(raw json.RawMessage) (*Transfer, error) {
	var args transferArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, types.NewError(types.ErrAgentFailed, "invalid transfer arguments").WithCause(err)
	}
	if args.Agent == "" {
		return nil, types.NewError(types.ErrAgentFailed, "transfer target is empty")
	}
	t := &Transfer{Target: args.Agent, Reason: args.Reason}
	if args.Input != "" {
		t.Input = &Input{Content: args.Input}
	}
	return t, nil
}

// Execute 运行 a 并处理转交。
//
// 收到 transfer 事件后取消当前智能体，从 rc.Registry 解析目标，以深度加一的
// 上下文继续执行。转交在循环中完成而非递归；深度达到 rc.MaxDepth() 后的下一次
// 请求以 types.ErrTransferDepthExceeded 终止。
func Execute(ctx context.Context, rc *RunContext, a Agent, in Input) <-chan Event {
	if rc == nil {
		rc = NewRunContext(nil)
	}
	driverID := a.ID()

	return NewStream(ctx, rc, driverID, func(emit Emit) error {
		cur := a
		curRC := rc
		curIn := in

		for {
			runCtx, cancel := context.WithCancel(ctx)
			stream := cur.Run(runCtx, curRC, curIn)

			var req *Transfer
			var requester string
			for ev := range stream {
				if ev.Type == EventTransfer && ev.Transfer != nil && !ev.Transfer.Handled {
					req = ev.Transfer
					requester = ev.AgentID
					break
				}
				if !emit(ev) {
					cancel()
					drain(stream)
					return errStopped
				}
				if ev.Type == EventError {
					cancel()
					drain(stream)
					return errStopped
				}
			}
			cancel()
			drain(stream)

			if req == nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}

			if curRC.TransferDepth >= curRC.MaxDepth() {
				return types.Errorf(types.ErrTransferDepthExceeded,
					"transfer from %s to %s exceeds max depth %d", requester, req.Target, curRC.MaxDepth()).
					WithNode(curRC.NodeID).WithUnit(curRC.UnitID)
			}

			if curRC.Registry == nil {
				return types.Errorf(types.ErrUnknownAgent, "transfer target %s: no registry", req.Target)
			}
			target, err := curRC.Registry.Get(req.Target)
			if err != nil {
				return err
			}

			curRC = curRC.WithTransfer()
			ev := Event{
				Type:    EventTransfer,
				AgentID: requester,
				Transfer: &Transfer{
					Target:  req.Target,
					Reason:  req.Reason,
					Input:   req.Input,
					Depth:   curRC.TransferDepth,
					Handled: true,
				},
			}
			if !emit(ev) {
				return errStopped
			}

			cur = target
			if req.Input != nil {
				next := *req.Input
				if next.Data == nil {
					next.Data = curIn.Data
				}
				curIn = next
			}
		}
	})
}

// drain 等待被取消的事件流关闭
func drain(stream <-chan Event) {
	for range stream {
	}
}
