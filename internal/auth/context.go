package auth

import "context"

// callerKey 是上下文中存储调用方标识的键类型。
type callerKey struct{}

// Caller 描述通过认证的调用方。
type Caller struct {
	// Authenticated 为 false 表示认证关闭时的匿名调用。
	Authenticated bool
	RemoteAddr    string
}

// WithCaller 将调用方信息写入上下文。
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext 从上下文中提取调用方信息。
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	caller, ok := ctx.Value(callerKey{}).(Caller)
	return caller, ok
}
