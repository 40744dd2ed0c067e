package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	xerrors "github.com/L7Shift/l7shift-website-sub000/internal/errors"
	"github.com/L7Shift/l7shift-website-sub000/internal/observability/alerting"
	"github.com/L7Shift/l7shift-website-sub000/internal/observability/metrics"
	"github.com/L7Shift/l7shift-website-sub000/pkg/logger"
)

// QueueWriter 实现 Writer，将记录编码为 JSON 后投递到队列。
type QueueWriter struct {
	producer Producer
}

// NewQueueWriter 创建 QueueWriter。
func NewQueueWriter(producer Producer) *QueueWriter {
	return &QueueWriter{producer: producer}
}

// Write 实现 Writer。
func (w *QueueWriter) Write(ctx context.Context, run RunRecord) error {
	if w == nil || w.producer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置审计队列")
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化审计记录失败")
	}
	if err := w.producer.Publish(ctx, payload); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "投递审计记录失败")
	}
	return nil
}

// Processor 负责从队列消费审计记录并交给 Writer 落库。
type Processor struct {
	writer      Writer
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器，落库失败时通知团队。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(writer Writer, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		writer:      writer,
		consumer:    consumer,
		workerCount: 1,
		logger:      logger.Named("audit"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动消费循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.writer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置审计队列消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, payload []byte) error {
	var run RunRecord
	if err := json.Unmarshal(payload, &run); err != nil {
		// 无法解析的消息重投也无意义，直接丢弃。
		p.logger.Error("丢弃无法解析的审计消息", slog.Any("error", err), slog.Int("bytes", len(payload)))
		return nil
	}
	if err := p.writer.Write(ctx, run); err != nil {
		metrics.ObserveAuditWrite("error")
		p.logger.Error("审计记录落库失败", slog.Any("error", err), slog.String("run_id", run.RunID))
		p.emitAlert(ctx, run, err)
		return err
	}
	metrics.ObserveAuditWrite("ok")
	p.logger.Debug("审计记录已落库", slog.String("run_id", run.RunID))
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, run RunRecord, cause error) {
	if p.alerter == nil || !xerrors.ShouldAlert(cause) {
		return
	}
	event := alerting.Event{
		Code:     xerrors.CodeOf(cause),
		Title:    "审计记录写入失败",
		Message:  cause.Error(),
		Severity: xerrors.SeverityOf(cause),
		Source:   "audit",
		RunID:    run.RunID,
		Metadata: map[string]string{
			"event_table": run.EventTable,
			"event_id":    run.EventID,
		},
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败", slog.Any("error", err), slog.String("run_id", run.RunID))
	}
}
