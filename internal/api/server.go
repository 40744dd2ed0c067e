package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/L7Shift/l7shift-website-sub000/internal/agent"
	"github.com/L7Shift/l7shift-website-sub000/internal/audit"
	"github.com/L7Shift/l7shift-website-sub000/internal/auth"
	xerrors "github.com/L7Shift/l7shift-website-sub000/internal/errors"
	"github.com/L7Shift/l7shift-website-sub000/internal/event"
	"github.com/L7Shift/l7shift-website-sub000/internal/observability/alerting"
	"github.com/L7Shift/l7shift-website-sub000/internal/observability/metrics"
	"github.com/L7Shift/l7shift-website-sub000/pkg/logger"
)

// MaxBodyBytes 限制 webhook 请求体大小。
const MaxBodyBytes = 1 << 20

const (
	defaultAgentName = "event-agent"
	alertTimeout     = 10 * time.Second
)

// Runner 执行一次 Agent 运行。
type Runner interface {
	Run(ctx context.Context, description string) (*agent.Result, error)
}

// Dependencies 汇总 Server 运行所需的组件。
type Dependencies struct {
	Agent      Runner
	Normalizer *event.Normalizer
	Auth       *auth.Service
	Audit      audit.Sink
	Alerts     alerting.Dispatcher
	// Tools 为健康检查中展示的工具名称。
	Tools   []string
	Name    string
	Version string
	Logger  *slog.Logger
}

// Server 负责暴露 HTTP 接口，将外部事件交给智能体处理。
type Server struct {
	addr       string
	agent      Runner
	normalizer *event.Normalizer
	auth       *auth.Service
	audit      audit.Sink
	alerts     alerting.Dispatcher
	tools      []string
	name       string
	version    string
	log        *slog.Logger
	handler    http.Handler
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Dependencies) *Server {
	s := &Server{
		addr:       addr,
		agent:      deps.Agent,
		normalizer: deps.Normalizer,
		auth:       deps.Auth,
		audit:      deps.Audit,
		alerts:     deps.Alerts,
		tools:      append([]string(nil), deps.Tools...),
		name:       deps.Name,
		version:    deps.Version,
		log:        deps.Logger,
	}
	if s.normalizer == nil {
		s.normalizer = event.NewNormalizer()
	}
	if s.auth == nil {
		s.auth = auth.NewService("")
	}
	if s.name == "" {
		s.name = defaultAgentName
	}
	if s.version == "" {
		s.version = "dev"
	}
	if s.tools == nil {
		s.tools = []string{}
	}
	if s.log == nil {
		s.log = logger.Named("api")
	}
	s.handler = s.routes()
	return s
}

// Handler 返回完整的路由，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware(auth.MiddlewareConfig{AuditEvent: "webhook"}))
		r.Post("/", s.handleWebhook)
		r.Post("/webhook", s.handleWebhook)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("HTTP 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"agent":   s.name,
		"version": s.version,
		"tools":   s.tools,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}

	evt, err := event.Parse(body)
	switch {
	case errors.Is(err, event.ErrInvalidJSON):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	case errors.Is(err, event.ErrUnrecognizedEvent):
		writeIgnored(w, "Unrecognized event payload")
		return
	case err != nil:
		writeIgnored(w, err.Error())
		return
	}

	description, ok := s.normalizer.Normalize(evt)
	if !ok {
		s.log.Debug("忽略不可处理的事件", slog.String("table", evt.Table))
		writeIgnored(w, "Event is not actionable")
		return
	}

	if s.agent == nil {
		err := xerrors.New(xerrors.CodeInitializationFailure, "agent is not configured")
		s.record(r.Context(), audit.RunRecord{
			RunID:      uuid.NewString(),
			EventKind:  string(evt.Kind),
			EventTable: evt.Source(),
			EventID:    evt.ID(),
			Actions:    []string{},
			Status:     audit.StatusFailed,
			StopReason: string(agent.StopFailed),
			Error:      err.Error(),
		})
		metrics.ObserveRun(string(agent.StopFailed), 0)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Agent run failed",
			"details": xerrors.MessageOf(err),
		})
		return
	}

	log := s.log.With(
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("event_kind", string(evt.Kind)),
		slog.String("event_source", evt.Source()),
	)
	log.Info("开始处理事件")

	result, runErr := s.agent.Run(r.Context(), description)
	if result == nil {
		result = &agent.Result{StopReason: agent.StopFailed}
	}
	transcript := result.Transcript
	if transcript == nil {
		transcript = []string{}
	}

	record := audit.RunRecord{
		RunID:          result.RunID,
		EventKind:      string(evt.Kind),
		EventTable:     evt.Source(),
		EventID:        evt.ID(),
		IterationCount: result.Iterations,
		Actions:        transcript,
		Status:         audit.StatusProcessed,
		StopReason:     string(result.StopReason),
		Duration:       result.Duration,
	}

	if runErr != nil {
		record.Status = audit.StatusFailed
		record.Error = runErr.Error()
		s.record(r.Context(), record)
		metrics.ObserveRun(string(agent.StopFailed), result.Iterations)
		log.Error("Agent 运行失败", slog.String("run_id", result.RunID), slog.Any("error", runErr))
		s.emitAlert(r.Context(), record, runErr)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Agent run failed",
			"details": xerrors.MessageOf(runErr),
		})
		return
	}

	s.record(r.Context(), record)
	metrics.ObserveRun(string(result.StopReason), result.Iterations)
	log.Info("事件处理完成",
		slog.String("run_id", result.RunID),
		slog.Int("iterations", result.Iterations),
		slog.String("stop_reason", string(result.StopReason)),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "processed",
		"iterations": result.Iterations,
		"actions":    len(transcript),
		"summary":    transcript,
	})
}

func (s *Server) record(ctx context.Context, run audit.RunRecord) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, run)
}

// emitAlert 异步通知团队，避免通知渠道拖慢响应。
func (s *Server) emitAlert(ctx context.Context, run audit.RunRecord, cause error) {
	if s.alerts == nil || !xerrors.ShouldAlert(cause) {
		return
	}
	evt := alerting.Event{
		Code:     xerrors.CodeOf(cause),
		Title:    "Agent run failed",
		Message:  xerrors.MessageOf(cause),
		Severity: xerrors.SeverityOf(cause),
		Source:   "agent",
		RunID:    run.RunID,
		Metadata: map[string]string{
			"event_kind":  run.EventKind,
			"event_table": run.EventTable,
			"event_id":    run.EventID,
		},
		OccurredAt: time.Now().UTC(),
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		alertCtx, cancel := context.WithTimeout(detached, alertTimeout)
		defer cancel()
		if err := s.alerts.Notify(alertCtx, evt); err != nil {
			s.log.Error("告警通知失败", slog.Any("error", err), slog.String("run_id", run.RunID))
		}
	}()
}

func writeIgnored(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": reason})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
