// Copyright 2024 AgentGraph Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent provides the agent composition primitives of AgentGraph.

# Overview

An Agent is a unit of work with an identity and a single Run operation that
produces a finite, ordered stream of events. Composite agents build on the
same contract:

	┌──────────────────────────────────────────────────────────┐
	│                     Agent (ID, Run)                      │
	├──────────────┬──────────────┬──────────────┬─────────────┤
	│  Sequential  │   Parallel   │  Conditional │  LLMAgent   │
	│ (thread out  │ (merge child │ (one branch, │ (leaf, via  │
	│  → next in)  │   streams)   │  predicate)  │ llm.Provider│
	└──────────────┴──────────────┴──────────────┴─────────────┘

# Event streams

Run returns a receive-only channel that is always closed by the producer.
An EventError event is terminal: nothing follows it. Cancellation is a
context value observed at every send; a cancelled stream may end without an
error event, so drivers check ctx.Err() after draining.

# Transfer

Execute is the transfer-aware driver. When an agent emits an EventTransfer
naming another registered agent, Execute cancels the current agent, resolves
the target through the Registry and continues with it, carrying the same
shared state and a transfer depth incremented by value. Requests beyond
RunContext.MaxTransferDepth fail with types.ErrTransferDepthExceeded.

# External commands

CommandAgent runs a CLI tool per invocation. The prompt replaces the
{prompt} placeholder in its arguments, or is written to stdin when no
argument carries one. Non-zero exits fail with types.ErrAgentFailed and
keep the stderr tail as the error detail.

# Usage

	reg := agent.NewRegistry(logger)
	_ = reg.Register(agent.NewLLMAgent("writer", provider))
	_ = reg.Register(agent.NewLLMAgent("editor", provider))
	pipeline, _ := reg.RegisterPipeline("draft", "writer", "editor")

	res, err := agent.Collect(agent.Execute(ctx, agent.NewRunContext(reg), pipeline, agent.Input{Content: "topic"}))
*/
package agent
