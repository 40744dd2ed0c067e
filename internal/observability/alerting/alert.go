package alerting

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/slack-go/slack"

	xerrors "github.com/L7Shift/l7shift-website-sub000/internal/errors"
	"github.com/L7Shift/l7shift-website-sub000/internal/mail"
	"github.com/L7Shift/l7shift-website-sub000/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelEmail Channel = "email"
	ChannelSlack Channel = "slack"
	ChannelLog   Channel = "log"
)

// Event 描述一次需要通知团队的事件，来源可能是 Agent 的工具调用或运行失败。
type Event struct {
	Code       xerrors.Code
	Title      string
	Message    string
	Severity   xerrors.Severity
	Source     string
	RunID      string
	Metadata   map[string]string
	OccurredAt time.Time
}

// SeverityForPriority 将工具参数中的优先级映射为严重程度。
func SeverityForPriority(priority string) xerrors.Severity {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case "urgent":
		return xerrors.SeverityCritical
	case "high":
		return xerrors.SeverityWarning
	default:
		return xerrors.SeverityInfo
	}
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers []Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher，同一渠道只保留最后一个通知器。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	ordered := make([]Notifier, 0, len(set))
	for _, n := range set {
		ordered = append(ordered, n)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Channel() < ordered[j].Channel() })
	return &FanoutDispatcher{notifiers: ordered}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// EmailNotifier 通过邮件通知内部团队。
type EmailNotifier struct {
	Sender        mail.Sender
	From          string
	To            []string
	SubjectPrefix string
}

// Channel 返回邮件渠道。
func (n *EmailNotifier) Channel() Channel { return ChannelEmail }

// Notify 发送邮件。
func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || len(n.To) == 0 {
		logger.L().Warn("EmailNotifier 未正确配置，跳过发送", slog.String("title", event.Title))
		return nil
	}
	var body strings.Builder
	fmt.Fprintf(&body, "<h2>%s</h2>", html.EscapeString(event.Title))
	fmt.Fprintf(&body, "<p>%s</p>", html.EscapeString(event.Message))
	fmt.Fprintf(&body, "<p><small>%s · %s · %s</small></p>",
		event.Severity, html.EscapeString(event.Source), event.OccurredAt.Format(time.RFC3339))
	if len(event.Metadata) > 0 {
		body.WriteString("<ul>")
		for _, k := range sortedKeys(event.Metadata) {
			fmt.Fprintf(&body, "<li><b>%s</b>: %s</li>", html.EscapeString(k), html.EscapeString(event.Metadata[k]))
		}
		body.WriteString("</ul>")
	}
	_, err := n.Sender.Send(ctx, mail.Message{
		From:    n.From,
		To:      n.To,
		Subject: fmt.Sprintf("%s[%s] %s", n.SubjectPrefix, event.Severity, event.Title),
		HTML:    body.String(),
	})
	return err
}

// SlackNotifier 通过 Slack Incoming Webhook 发送通知。
type SlackNotifier struct {
	WebhookURL string
}

// Channel 返回 Slack 渠道。
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify 发送 Slack 消息。
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.WebhookURL == "" {
		logger.L().Warn("SlackNotifier 未正确配置，跳过发送", slog.String("title", event.Title))
		return nil
	}
	text := fmt.Sprintf("*[%s] %s*\n%s", event.Severity, event.Title, event.Message)
	if event.Source != "" {
		text += fmt.Sprintf("\n_source: %s_", event.Source)
	}
	return slack.PostWebhookContext(ctx, n.WebhookURL, &slack.WebhookMessage{Text: text})
}

// LogNotifier 将通知写入审计日志，保证至少存在一个可用渠道。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写入审计日志。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	l := logger.Audit()
	if n != nil && n.Logger != nil {
		l = n.Logger
	}
	l.Info("internal_notification",
		slog.String("title", event.Title),
		slog.String("message", event.Message),
		slog.String("severity", string(event.Severity)),
		slog.String("source", event.Source),
		slog.String("run_id", event.RunID),
	)
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
