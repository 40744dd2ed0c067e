package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/L7Shift/l7shift-website-sub000/internal/errors"
	"github.com/L7Shift/l7shift-website-sub000/internal/llm"
	"github.com/L7Shift/l7shift-website-sub000/internal/mail"
	"github.com/L7Shift/l7shift-website-sub000/internal/observability/alerting"
	"github.com/L7Shift/l7shift-website-sub000/internal/observability/metrics"
	"github.com/L7Shift/l7shift-website-sub000/internal/query"
	"github.com/L7Shift/l7shift-website-sub000/internal/storage"
	"github.com/L7Shift/l7shift-website-sub000/pkg/logger"
)

// ActivityTable 是 log_activity 写入的表。
const ActivityTable = "activity_log"

const defaultCallTimeout = 30 * time.Second

type handlerFunc func(ctx context.Context, args map[string]any) (any, error)

// Executor 负责执行模型请求的工具调用，任何失败都以 {"error": ...} 形式返回给模型。
type Executor struct {
	registry    *Registry
	store       storage.Store
	mailer      mail.Sender
	notifier    alerting.Dispatcher
	defaultFrom string
	callTimeout time.Duration
	now         func() time.Time
	log         *slog.Logger
	handlers    map[string]handlerFunc
}

// ExecutorOption 用于定制执行器。
type ExecutorOption func(*Executor)

// WithRegistry 替换默认的工具目录。
func WithRegistry(r *Registry) ExecutorOption {
	return func(e *Executor) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithMailer 设置邮件发送器。
func WithMailer(m mail.Sender) ExecutorOption {
	return func(e *Executor) { e.mailer = m }
}

// WithNotifier 设置内部通知分发器。
func WithNotifier(d alerting.Dispatcher) ExecutorOption {
	return func(e *Executor) { e.notifier = d }
}

// WithDefaultFrom 设置 send_email 缺省的发件人。
func WithDefaultFrom(from string) ExecutorOption {
	return func(e *Executor) { e.defaultFrom = strings.TrimSpace(from) }
}

// WithCallTimeout 限制单次工具调用的耗时，0 表示不限制。
func WithCallTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d >= 0 {
			e.callTimeout = d
		}
	}
}

// WithClock 覆盖时间来源，便于测试。
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithExecutorLogger 设置日志记录器。
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// NewExecutor 创建工具执行器。
func NewExecutor(store storage.Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    DefaultRegistry(),
		store:       store,
		callTimeout: defaultCallTimeout,
		now:         time.Now,
		log:         logger.Named("tools"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.notifier == nil {
		e.notifier = alerting.NewFanout(&alerting.LogNotifier{})
	}
	e.handlers = map[string]handlerFunc{
		QueryRecords:     e.queryRecords,
		UpdateRecord:     e.updateRecord,
		CreateRecord:     e.createRecord,
		SendEmail:        e.sendEmail,
		LogActivity:      e.logActivity,
		SendNotification: e.sendNotification,
		Think:            e.think,
	}
	return e
}

// Registry 返回执行器使用的工具目录。
func (e *Executor) Registry() *Registry { return e.registry }

// Specs 返回向模型声明的工具列表。
func (e *Executor) Specs() []llm.Tool { return e.registry.Specs() }

// Execute 执行一次工具调用并返回 JSON 字符串结果，从不返回错误。
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (result string) {
	handler, ok := e.handlers[name]
	if _, known := e.registry.Lookup(name); !ok || !known {
		metrics.ObserveToolCall(name, "unknown")
		e.log.Warn("未知工具", slog.String("tool", name))
		return errorResult("Unknown tool: " + name)
	}
	if err := e.registry.Validate(name, args); err != nil {
		metrics.ObserveToolCall(name, "invalid")
		e.log.Warn("工具参数校验失败", slog.String("tool", name), slog.String("error", err.Error()))
		return errorResult(fmt.Sprintf("Invalid arguments for %s: %s", name, err.Error()))
	}

	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveToolCall(name, "panic")
			e.log.Error("工具执行 panic", slog.String("tool", name), slog.Any("panic", r))
			result = errorResult(fmt.Sprintf("tool %s panicked: %v", name, r))
		}
	}()

	payload, err := handler(ctx, args)
	if err != nil {
		metrics.ObserveToolCall(name, "error")
		e.log.Warn("工具执行失败",
			slog.String("tool", name),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return errorResult(xerrors.MessageOf(err))
	}
	metrics.ObserveToolCall(name, "ok")
	e.log.Debug("工具执行完成", slog.String("tool", name), slog.Duration("elapsed", e.now().Sub(start)))
	return encode(payload)
}

func (e *Executor) queryRecords(ctx context.Context, args map[string]any) (any, error) {
	q := query.Query{
		Table:   stringArg(args, "table"),
		Columns: query.ParseColumns(stringArg(args, "select")),
		Limit:   intArg(args, "limit"),
	}
	if filters, ok := args["filters"].(map[string]any); ok {
		for _, column := range sortedKeys(filters) {
			q.Filters = append(q.Filters, query.BuildFilter(column, query.Stringify(filters[column])))
		}
	}
	if order := stringArg(args, "order"); order != "" {
		o := query.ParseOrder(order)
		q.Order = &o
	}
	q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid query")
	}
	rows, err := e.requireStore().Select(ctx, q)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []storage.Row{}
	}
	return map[string]any{"data": rows, "count": len(rows)}, nil
}

func (e *Executor) updateRecord(ctx context.Context, args map[string]any) (any, error) {
	updates, _ := args["updates"].(map[string]any)
	row, err := e.requireStore().Update(ctx, stringArg(args, "table"), args["id"], updates)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "data": row}, nil
}

func (e *Executor) createRecord(ctx context.Context, args map[string]any) (any, error) {
	data, _ := args["data"].(map[string]any)
	row, err := e.requireStore().Insert(ctx, stringArg(args, "table"), data)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "data": row}, nil
}

func (e *Executor) sendEmail(ctx context.Context, args map[string]any) (any, error) {
	if e.mailer == nil {
		return nil, mail.ErrMissingAPIKey
	}
	from := stringArg(args, "from")
	if from == "" {
		from = e.defaultFrom
	}
	id, err := e.mailer.Send(ctx, mail.Message{
		From:    from,
		To:      recipients(args["to"]),
		Subject: stringArg(args, "subject"),
		HTML:    stringArg(args, "html"),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "id": id}, nil
}

func (e *Executor) logActivity(ctx context.Context, args map[string]any) (any, error) {
	values := storage.Row{
		"id":          uuid.NewString(),
		"action":      stringArg(args, "action"),
		"description": stringArg(args, "description"),
		"actor":       "agent",
		"created_at":  e.now().UTC().Format(time.RFC3339),
	}
	if v := stringArg(args, "entity_type"); v != "" {
		values["entity_type"] = v
	}
	if v := stringArg(args, "entity_id"); v != "" {
		values["entity_id"] = v
	}
	if meta, ok := args["metadata"].(map[string]any); ok {
		values["metadata"] = meta
	}
	row, err := e.requireStore().Insert(ctx, ActivityTable, values)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "data": row}, nil
}

func (e *Executor) sendNotification(ctx context.Context, args map[string]any) (any, error) {
	priority := stringArg(args, "priority")
	if priority == "" {
		priority = "normal"
	}
	event := alerting.Event{
		Title:      stringArg(args, "title"),
		Message:    stringArg(args, "message"),
		Severity:   alerting.SeverityForPriority(priority),
		Source:     "agent",
		Metadata:   map[string]string{"priority": priority},
		OccurredAt: e.now(),
	}
	if err := e.notifier.Notify(ctx, event); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeToolFailure, err, "notification delivery failed")
	}
	return map[string]any{"success": true, "priority": priority}, nil
}

func (e *Executor) think(_ context.Context, args map[string]any) (any, error) {
	e.log.Info("agent thought", slog.String("thought", stringArg(args, "thought")))
	return map[string]any{"success": true, "acknowledged": true}, nil
}

func (e *Executor) requireStore() storage.Store {
	if e.store == nil {
		return unavailableStore{}
	}
	return e.store
}

// unavailableStore 在未配置数据库时让表类工具返回明确的错误。
type unavailableStore struct{}

func (unavailableStore) err() error {
	return xerrors.New(xerrors.CodeInitializationFailure, "database is not configured")
}

func (s unavailableStore) Select(context.Context, query.Query) ([]storage.Row, error) {
	return nil, s.err()
}

func (s unavailableStore) Insert(context.Context, string, storage.Row) (storage.Row, error) {
	return nil, s.err()
}

func (s unavailableStore) Update(context.Context, string, any, storage.Row) (storage.Row, error) {
	return nil, s.err()
}

func (unavailableStore) Close() error { return nil }

func errorResult(message string) string {
	return encode(map[string]any{"error": message})
}

func encode(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fallback, _ := json.Marshal(map[string]string{"error": "encode tool result: " + err.Error()})
		return string(fallback)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return query.Stringify(v)
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

func recipients(v any) []string {
	switch to := v.(type) {
	case string:
		return splitAddresses(to)
	case []any:
		out := make([]string, 0, len(to))
		for _, item := range to {
			if s, ok := item.(string); ok {
				out = append(out, splitAddresses(s)...)
			}
		}
		return out
	case []string:
		return to
	default:
		return nil
	}
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
