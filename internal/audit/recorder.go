package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/L7Shift/l7shift-website-sub000/internal/observability/metrics"
	"github.com/L7Shift/l7shift-website-sub000/pkg/logger"
)

const defaultWriteTimeout = 10 * time.Second

// Sink 接收运行记录。调用方不关心写入结果。
type Sink interface {
	Record(ctx context.Context, run RunRecord)
}

// Writer 将记录写入持久化介质。
type Writer interface {
	Write(ctx context.Context, run RunRecord) error
}

// Recorder 实现 Sink：先写审计日志，再在后台调用 Writer。
type Recorder struct {
	writer  Writer
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// RecorderOption 定义可选配置。
type RecorderOption func(*Recorder)

// WithWriteTimeout 设置单次写入的超时时间，0 表示不限制。
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d >= 0 {
			r.timeout = d
		}
	}
}

// WithRecorderLogger 指定审计日志输出。
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRecorder 创建 Recorder。writer 为空时只写审计日志。
func NewRecorder(writer Writer, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		writer:  writer,
		timeout: defaultWriteTimeout,
		log:     logger.Audit(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Record 实现 Sink。写入在脱离请求生命周期的 context 上进行，失败只记录日志。
func (r *Recorder) Record(ctx context.Context, run RunRecord) {
	if run.Timestamp.IsZero() {
		run.Timestamp = r.now().UTC()
	}
	r.log.Info("agent_run",
		slog.String("run_id", run.RunID),
		slog.String("event_kind", run.EventKind),
		slog.String("event_table", run.EventTable),
		slog.String("event_id", run.EventID),
		slog.Int("iteration_count", run.IterationCount),
		slog.Int("actions", len(run.Actions)),
		slog.String("status", string(run.Status)),
		slog.String("stop_reason", run.StopReason),
		slog.String("error", run.Error),
	)
	if r.writer == nil {
		return
	}

	// Add 与 Close 中的 Wait 必须互斥，否则关闭后仍可能启动新的写入。
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		metrics.ObserveAuditWrite("dropped")
		logger.L().Warn("审计记录器已关闭，跳过写入", slog.String("run_id", run.RunID))
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				metrics.ObserveAuditWrite("error")
				logger.L().Error("审计记录写入 panic", slog.String("run_id", run.RunID), slog.Any("panic", p))
			}
		}()

		writeCtx := detached
		if r.timeout > 0 {
			var cancel context.CancelFunc
			writeCtx, cancel = context.WithTimeout(detached, r.timeout)
			defer cancel()
		}
		if err := r.writer.Write(writeCtx, run); err != nil {
			metrics.ObserveAuditWrite("error")
			logger.L().Error("写入审计记录失败",
				slog.String("run_id", run.RunID),
				slog.String("event_table", run.EventTable),
				slog.Any("error", err),
			)
			return
		}
		metrics.ObserveAuditWrite("ok")
	}()
}

// Close 拒绝新的写入，并等待所有进行中的写入完成，或直到 ctx 结束。可重复调用。
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
