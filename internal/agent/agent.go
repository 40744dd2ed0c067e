package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/L7Shift/l7shift-website-sub000/internal/errors"
	"github.com/L7Shift/l7shift-website-sub000/internal/llm"
	"github.com/L7Shift/l7shift-website-sub000/pkg/logger"
)

// StopReason 描述一次运行结束的原因。
type StopReason string

const (
	// StopCompleted 模型自然结束会话。
	StopCompleted StopReason = "completed"
	// StopNoToolCalls 模型未请求任何工具但也未声明结束。
	StopNoToolCalls StopReason = "no_tool_calls"
	// StopMaxIterations 达到迭代上限。
	StopMaxIterations StopReason = "max_iterations"
	// StopFailed 模型调用失败或超时。
	StopFailed StopReason = "failed"
)

const (
	// DefaultMaxIterations 是单次运行允许的最大 LLM 往返次数。
	DefaultMaxIterations = 10
	defaultRunTimeout    = 5 * time.Minute
	defaultLLMTimeout    = 60 * time.Second
	defaultMaxTokens     = 4096
	argumentPreviewLimit = 200
)

// Tools 是 Agent 可用的工具集合。
type Tools interface {
	Specs() []llm.Tool
	Execute(ctx context.Context, name string, args map[string]any) string
}

// Result 汇总一次运行的过程。
type Result struct {
	RunID      string
	Iterations int
	// Transcript 按顺序记录模型的 thought 与执行的 action。
	Transcript []string
	StopReason StopReason
	Duration   time.Duration
}

// Agent 驱动模型与工具之间的多轮对话，是系统的业务核心。
type Agent struct {
	llmClient     llm.Client
	tools         Tools
	systemPrompt  string
	maxIterations int
	maxTokens     int
	runTimeout    time.Duration
	llmTimeout    time.Duration
	log           *slog.Logger
	now           func() time.Time
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithMaxIterations 设置迭代上限。
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithRunTimeout 设置单次运行的总超时时间，0 表示不限制。
func WithRunTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.runTimeout = 0
			return
		}
		a.runTimeout = timeout
	}
}

// WithLLMTimeout 设置调用大模型的超时时间，0 表示不限制。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// WithSystemPrompt 替换默认的策略提示词。
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		if strings.TrimSpace(prompt) != "" {
			a.systemPrompt = prompt
		}
	}
}

// WithMaxTokens 设置单次模型输出的 token 上限。
func WithMaxTokens(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// New 创建一个 Agent。
func New(llmClient llm.Client, tools Tools, opts ...Option) *Agent {
	ag := &Agent{
		llmClient:     llmClient,
		tools:         tools,
		systemPrompt:  DefaultSystemPrompt,
		maxIterations: DefaultMaxIterations,
		maxTokens:     defaultMaxTokens,
		runTimeout:    defaultRunTimeout,
		llmTimeout:    defaultLLMTimeout,
		log:           logger.Named("agent"),
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Run 以任务描述开启一次会话，直到模型结束、不再调用工具或达到迭代上限。
// 出错时仍返回已完成部分的 Result，便于调用方写入审计记录。
func (a *Agent) Run(ctx context.Context, description string) (*Result, error) {
	result := &Result{RunID: uuid.NewString()}
	start := a.now()
	defer func() { result.Duration = a.now().Sub(start) }()

	if a.llmClient == nil {
		result.StopReason = StopFailed
		return result, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if strings.TrimSpace(description) == "" {
		result.StopReason = StopFailed
		return result, xerrors.New(xerrors.CodeInvalidArgument, "任务描述不能为空")
	}

	if a.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.runTimeout)
		defer cancel()
	}

	log := a.log.With(slog.String("run_id", result.RunID))
	var specs []llm.Tool
	if a.tools != nil {
		specs = a.tools.Specs()
	}
	messages := []llm.Message{llm.UserMessage(description)}

	for result.Iterations < a.maxIterations {
		result.Iterations++

		resp, err := a.generate(ctx, llm.Request{
			System:    a.systemPrompt,
			Messages:  messages,
			Tools:     specs,
			MaxTokens: a.maxTokens,
		})
		if err != nil {
			result.StopReason = StopFailed
			log.Error("大模型调用失败", slog.Int("iteration", result.Iterations), slog.String("error", err.Error()))
			return result, err
		}

		for _, text := range resp.Texts {
			result.Transcript = append(result.Transcript, "thought: "+text)
		}
		messages = append(messages, resp.Message())

		if len(resp.ToolCalls) == 0 {
			if resp.StopReason == llm.StopCompleted {
				result.StopReason = StopCompleted
			} else {
				result.StopReason = StopNoToolCalls
			}
			log.Info("运行结束", slog.Int("iterations", result.Iterations), slog.String("stop_reason", string(result.StopReason)))
			return result, nil
		}

		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			result.Transcript = append(result.Transcript, "action: "+call.Name+"("+previewArguments(call.Arguments)+")")
			content := a.execute(ctx, call)
			results = append(results, llm.ToolResult{
				CallID:  call.ID,
				Content: content,
				IsError: isErrorResult(content),
			})
			log.Debug("工具调用完成", slog.String("tool", call.Name), slog.Int("iteration", result.Iterations))
		}
		messages = append(messages, llm.Message{Role: llm.RoleTool, ToolResults: results})
	}

	result.StopReason = StopMaxIterations
	log.Warn("达到迭代上限", slog.Int("iterations", result.Iterations))
	return result, nil
}

func (a *Agent) generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}
	resp, err := a.llmClient.Generate(llmCtx, req)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "大模型推理失败")
	}
	if resp == nil {
		return nil, xerrors.New(xerrors.CodeLLMFailure, "大模型返回空响应")
	}
	return resp, nil
}

func (a *Agent) execute(ctx context.Context, call llm.ToolCall) string {
	if a.tools == nil {
		return `{"error":"Unknown tool: ` + call.Name + `"}`
	}
	return a.tools.Execute(ctx, call.Name, call.Arguments)
}

func previewArguments(args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "?"
	}
	text := []rune(string(raw))
	if len(text) > argumentPreviewLimit {
		return string(text[:argumentPreviewLimit])
	}
	return string(text)
}

func isErrorResult(content string) bool {
	if !strings.HasPrefix(content, `{"error"`) {
		return false
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return false
	}
	_, ok := decoded["error"]
	return ok && len(decoded) == 1
}
