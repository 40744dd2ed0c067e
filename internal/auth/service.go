// Package auth 提供 webhook 入口的共享密钥校验。
//
// 未配置密钥时认证关闭，所有请求直接放行；配置后调用方需要携带
// `Authorization: Bearer <secret>` 请求头。
package auth

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	xerrors "github.com/L7Shift/l7shift-website-sub000/internal/errors"
)

var (
	// ErrMissingToken 表示请求未携带 Bearer 令牌。
	ErrMissingToken = xerrors.New(xerrors.CodeUnauthorized, "missing bearer token")
	// ErrInvalidToken 表示令牌与配置的密钥不一致。
	ErrInvalidToken = xerrors.New(xerrors.CodeUnauthorized, "invalid bearer token")
)

// Service 负责校验入站请求携带的共享密钥。
type Service struct {
	secret []byte
	audit  *slog.Logger
}

// Option 自定义 Service。
type Option func(*Service)

// WithAuditLogger 指定审计日志输出，默认使用 logger.Audit()。
func WithAuditLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.audit = logger
	}
}

// NewService 根据共享密钥创建 Service。密钥为空表示关闭认证。
func NewService(secret string, opts ...Option) *Service {
	s := &Service{secret: []byte(strings.TrimSpace(secret))}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Enabled 报告是否启用了认证。
func (s *Service) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Authenticate 校验 Authorization 请求头。
func (s *Service) Authenticate(header string) error {
	if !s.Enabled() {
		return nil
	}
	token, ok := bearerToken(header)
	if !ok {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(token), s.secret) != 1 {
		return ErrInvalidToken
	}
	return nil
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
