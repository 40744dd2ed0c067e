// Package mail sends transactional email through Resend.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
)

const defaultTimeout = 15 * time.Second

// ErrMissingAPIKey is returned by Send when no Resend key is configured. The
// text is surfaced to the model verbatim.
var ErrMissingAPIKey = errors.New("No Resend API key configured")

// Message is a single outbound email.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

// Sender delivers a message and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Config 描述了调用 Resend API 所需的信息。
type Config struct {
	APIKey      string
	BaseURL     string
	DefaultFrom string
	Timeout     time.Duration
}

// Client 包装 resend-go。缺少 API Key 时仍可构造，发送时返回 ErrMissingAPIKey。
type Client struct {
	resend      *resend.Client
	defaultFrom string
}

// NewClient 根据配置创建 Resend 客户端。BaseURL 非法时返回错误。
func NewClient(cfg Config) (*Client, error) {
	c := &Client{defaultFrom: strings.TrimSpace(cfg.DefaultFrom)}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return c, nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rc := resend.NewCustomClient(&http.Client{Timeout: timeout}, apiKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		u, err := url.Parse(strings.TrimRight(base, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse resend base url: %w", err)
		}
		rc.BaseURL = u
	}
	c.resend = rc
	return c, nil
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c != nil && c.resend != nil
}

// Send 实现 Sender。
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if !c.Configured() {
		return "", ErrMissingAPIKey
	}
	if msg.From == "" {
		msg.From = c.defaultFrom
	}
	if msg.From == "" {
		return "", errors.New("email sender address is not configured")
	}
	if len(msg.To) == 0 {
		return "", errors.New("email has no recipients")
	}

	sent, err := c.resend.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    msg.From,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
		ReplyTo: msg.ReplyTo,
	})
	if err != nil {
		return "", fmt.Errorf("resend request failed: %w", err)
	}
	return sent.Id, nil
}
