// Package anthropic adapts the Anthropic Messages API to llm.Client.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/L7Shift/l7shift-website-sub000/internal/llm"
	"github.com/L7Shift/l7shift-website-sub000/pkg/logger"
)

const (
	defaultModelName = "claude-sonnet-4-20250514"
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 4096
)

// Config 描述了调用 Anthropic Messages API 所需的信息。
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	// MaxRetries 为 0 时沿用 SDK 默认值，负数表示不重试。
	MaxRetries int
}

// Client 通过官方 SDK 调用 Claude。
type Client struct {
	client sdk.Client
	model  string
}

// NewClient 根据配置创建 Anthropic 客户端。
func NewClient(cfg Config, extra ...option.RequestOption) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Anthropic API Key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	switch {
	case cfg.MaxRetries > 0:
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	case cfg.MaxRetries < 0:
		opts = append(opts, option.WithMaxRetries(0))
	}
	opts = append(opts, extra...)

	return &Client{client: sdk.NewClient(opts...), model: model}, nil
}

// Generate 调用 Messages API。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("请求 Anthropic 失败: %w", err)
	}

	out := &llm.Response{StopReason: convertStopReason(resp.StopReason)}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if text := strings.TrimSpace(block.Text); text != "" {
				out.Texts = append(out.Texts, text)
			}
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					// 参数无法解析时以空参数继续，交由工具校验把错误返回给模型。
					logger.Named("llm").Warn("工具参数不是合法的 JSON 对象",
						slog.String("tool", block.Name),
						slog.String("error", err.Error()),
					)
					args = map[string]any{}
				}
			}
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	return out, nil
}

func (c *Client) buildParams(req llm.Request) (sdk.MessageNewParams, error) {
	messages := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleUser:
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(msg.Text)))
		case llm.RoleAssistant:
			var blocks []sdk.ContentBlockParamUnion
			if text := strings.TrimSpace(msg.Text); text != "" {
				blocks = append(blocks, sdk.NewTextBlock(text))
			}
			for _, call := range msg.ToolCalls {
				args := call.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, args, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, sdk.NewAssistantMessage(blocks...))
		case llm.RoleTool:
			// 工具结果以 user 角色回传，一条消息携带本轮全部结果。
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(msg.ToolResults))
			for _, result := range msg.ToolResults {
				blocks = append(blocks, toolResultBlock(result))
			}
			messages = append(messages, sdk.NewUserMessage(blocks...))
		default:
			return sdk.MessageNewParams{}, fmt.Errorf("不支持的消息角色: %s", msg.Role)
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
		Tools:     convertTools(req.Tools),
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	return params, nil
}

func toolResultBlock(result llm.ToolResult) sdk.ContentBlockParamUnion {
	return sdk.ContentBlockParamUnion{OfToolResult: &sdk.ToolResultBlockParam{
		ToolUseID: result.CallID,
		Content: []sdk.ToolResultBlockParamContentUnion{
			{OfText: &sdk.TextBlockParam{Text: result.Content}},
		},
		IsError: sdk.Bool(result.IsError),
	}}
}

func convertTools(tools []llm.Tool) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		schema := sdk.ToolInputSchemaParam{Properties: tool.InputSchema["properties"]}
		extra := map[string]any{}
		for key, value := range tool.InputSchema {
			if key == "type" || key == "properties" {
				continue
			}
			extra[key] = value
		}
		if len(extra) > 0 {
			schema.ExtraFields = extra
		}
		out = append(out, sdk.ToolUnionParam{OfTool: &sdk.ToolParam{
			Name:        tool.Name,
			Description: sdk.String(tool.Description),
			InputSchema: schema,
		}})
	}
	return out
}

func convertStopReason(reason sdk.StopReason) llm.StopReason {
	switch reason {
	case sdk.StopReasonEndTurn, sdk.StopReasonStopSequence:
		return llm.StopCompleted
	case sdk.StopReasonToolUse:
		return llm.StopToolUse
	case sdk.StopReasonMaxTokens:
		return llm.StopMaxTokens
	default:
		return llm.StopOther
	}
}
