// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package events 提供执行过程向外部观察者发布事件的有界出口。

# 概述

引擎与调度器把智能体事件、门禁结果、单元状态与运行状态包装为 Envelope，
投递到 Sink。Publish 永不阻塞生产者：缓冲区满时按 OverflowPolicy
丢弃最旧事件（DropOldest）或返回 ErrSinkFull（ErrorOnFull）。

# 使用

	sink := events.NewSink(256, events.DropOldest, logger)
	defer sink.Close()
	go func() {
		for env := range sink.C() {
			render(env)
		}
	}()
*/
package events
