package llm

import "context"

// Role 标识会话中消息的来源。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool 消息携带上一轮工具调用的结果。
	RoleTool Role = "tool"
)

// StopReason 描述模型本轮停止生成的原因。
type StopReason string

const (
	// StopCompleted 表示模型自然结束会话。
	StopCompleted StopReason = "completed"
	// StopToolUse 表示模型请求执行工具。
	StopToolUse StopReason = "tool_use"
	// StopMaxTokens 表示输出被 max tokens 截断。
	StopMaxTokens StopReason = "max_tokens"
	StopOther     StopReason = "other"
)

// Tool 是暴露给模型的工具声明。
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall 是模型发起的一次工具调用。
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult 是工具调用的结果，内容始终为 JSON 字符串。
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// Message 是会话中的一条消息。
type Message struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// UserMessage 构造一条用户文本消息。
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// Request 描述一次模型调用。
type Request struct {
	System    string
	Messages  []Message
	Tools     []Tool
	MaxTokens int
}

// Response 是一次模型调用的结构化输出。
type Response struct {
	Texts      []string
	ToolCalls  []ToolCall
	StopReason StopReason
}

// Message 将响应转换为可追加到会话中的助手消息。
func (r *Response) Message() Message {
	msg := Message{Role: RoleAssistant, ToolCalls: r.ToolCalls}
	for i, text := range r.Texts {
		if i > 0 {
			msg.Text += "\n"
		}
		msg.Text += text
	}
	return msg
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
