package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/L7Shift/l7shift-website-sub000/internal/llm"
)

const (
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 4096
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 go-openai 调用 OpenAI 兼容的大模型接口。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (c *Client) sdk() *goopenai.Client {
	config := goopenai.DefaultConfig(c.apiKey)
	if c.baseURL != "" {
		config.BaseURL = c.baseURL
	}
	config.HTTPClient = c.httpClient
	return goopenai.NewClientWithConfig(config)
}

// Generate 调用 Chat Completions 接口并转换为统一的响应结构。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.sdk().CreateChatCompletion(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	choice := resp.Choices[0]
	out := &llm.Response{StopReason: convertFinishReason(choice.FinishReason)}
	if text := strings.TrimSpace(choice.Message.Content); text != "" {
		out.Texts = append(out.Texts, text)
	}
	for _, call := range choice.Message.ToolCalls {
		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("解析工具参数失败 (%s): %w", call.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func (c *Client) buildRequest(req llm.Request) (goopenai.ChatCompletionRequest, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleUser:
			messages = append(messages, goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleUser,
				Content: msg.Text,
			})
		case llm.RoleAssistant:
			converted := goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleAssistant,
				Content: msg.Text,
			}
			for _, call := range msg.ToolCalls {
				args, err := json.Marshal(call.Arguments)
				if err != nil {
					return goopenai.ChatCompletionRequest{}, fmt.Errorf("序列化工具参数失败: %w", err)
				}
				converted.ToolCalls = append(converted.ToolCalls, goopenai.ToolCall{
					ID:   call.ID,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			messages = append(messages, converted)
		case llm.RoleTool:
			// OpenAI 要求每个工具结果单独作为一条 tool 消息。
			for _, result := range msg.ToolResults {
				messages = append(messages, goopenai.ChatCompletionMessage{
					Role:       goopenai.ChatMessageRoleTool,
					Content:    result.Content,
					ToolCallID: result.CallID,
				})
			}
		default:
			return goopenai.ChatCompletionRequest{}, fmt.Errorf("不支持的消息角色: %s", msg.Role)
		}
	}

	tools := make([]goopenai.Tool, 0, len(req.Tools))
	for _, tool := range req.Tools {
		tools = append(tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return goopenai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: maxTokens,
	}, nil
}

func convertFinishReason(reason goopenai.FinishReason) llm.StopReason {
	switch reason {
	case goopenai.FinishReasonStop:
		return llm.StopCompleted
	case goopenai.FinishReasonToolCalls, goopenai.FinishReasonFunctionCall:
		return llm.StopToolUse
	case goopenai.FinishReasonLength:
		return llm.StopMaxTokens
	default:
		return llm.StopOther
	}
}
