// Package audit 负责持久化每一次 Agent 运行的审计记录。
//
// 记录在运行结束后写入且只写入一次，无论成功或失败。写入与 HTTP 响应解耦：
// Recorder 在独立的 goroutine 中调用 Writer，Writer 可以直接写库，也可以先投递到
// 消息队列，由 Processor 异步落库。
package audit

import "time"

// Status 描述运行结果。
type Status string

const (
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// RunRecord 是一次运行的审计记录。
type RunRecord struct {
	RunID          string        `json:"run_id"`
	EventKind      string        `json:"event_kind"`
	EventTable     string        `json:"event_table"`
	EventID        string        `json:"event_id"`
	IterationCount int           `json:"iteration_count"`
	Actions        []string      `json:"actions"`
	Status         Status        `json:"status"`
	Error          string        `json:"error,omitempty"`
	StopReason     string        `json:"stop_reason,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	Duration       time.Duration `json:"duration"`
}
