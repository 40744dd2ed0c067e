package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/L7Shift/l7shift-website-sub000/internal/agent"
	"github.com/L7Shift/l7shift-website-sub000/internal/api"
	"github.com/L7Shift/l7shift-website-sub000/internal/audit"
	"github.com/L7Shift/l7shift-website-sub000/internal/auth"
	"github.com/L7Shift/l7shift-website-sub000/internal/config"
	"github.com/L7Shift/l7shift-website-sub000/internal/event"
	"github.com/L7Shift/l7shift-website-sub000/internal/llm"
	"github.com/L7Shift/l7shift-website-sub000/internal/llm/anthropic"
	"github.com/L7Shift/l7shift-website-sub000/internal/llm/openai"
	"github.com/L7Shift/l7shift-website-sub000/internal/mail"
	"github.com/L7Shift/l7shift-website-sub000/internal/observability/alerting"
	"github.com/L7Shift/l7shift-website-sub000/internal/observability/metrics"
	"github.com/L7Shift/l7shift-website-sub000/internal/storage"
	"github.com/L7Shift/l7shift-website-sub000/internal/storage/memory"
	"github.com/L7Shift/l7shift-website-sub000/internal/storage/sqlstore"
	"github.com/L7Shift/l7shift-website-sub000/internal/tools"
	"github.com/L7Shift/l7shift-website-sub000/pkg/logger"
)

// Version 在构建时通过 -ldflags "-X main.Version=..." 注入。
var Version = "dev"

const shutdownTimeout = 15 * time.Second

// main 是 Agent 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 不存在时忽略。
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("加载 .env 失败: %w", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("agentd")

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("关闭数据库失败", slog.Any("error", err))
		}
	}()

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	mailer, err := mail.NewClient(mail.Config{
		APIKey:      cfg.Mail.APIKey,
		BaseURL:     cfg.Mail.BaseURL,
		DefaultFrom: cfg.Mail.DefaultFrom,
	})
	if err != nil {
		return fmt.Errorf("初始化邮件客户端失败: %w", err)
	}
	alerts := buildNotifiers(cfg, mailer)

	executor := tools.NewExecutor(store,
		tools.WithMailer(mailer),
		tools.WithNotifier(alerts),
		tools.WithDefaultFrom(cfg.Mail.DefaultFrom),
		tools.WithCallTimeout(cfg.Agent.ToolTimeout.Std()),
	)

	ag := agent.New(llmClient, executor,
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithMaxTokens(cfg.Agent.MaxTokens),
		agent.WithSystemPrompt(cfg.Agent.SystemPrompt),
		agent.WithRunTimeout(cfg.Agent.RunTimeout.Std()),
		agent.WithLLMTimeout(cfg.Agent.LLMTimeout.Std()),
	)

	var normalizerOpts []event.Option
	if len(cfg.Agent.Denylist) > 0 {
		normalizerOpts = append(normalizerOpts, event.WithDenylist(cfg.Agent.Denylist...))
	}

	delivery, err := startAuditDelivery(ctx, cfg.Audit, store, alerts)
	if err != nil {
		return err
	}
	recorder := audit.NewRecorder(delivery.writer, audit.WithWriteTimeout(cfg.Audit.WriteTimeout.Std()))

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, api.Dependencies{
		Agent:      ag,
		Normalizer: event.NewNormalizer(normalizerOpts...),
		Auth:       auth.NewService(cfg.Server.WebhookSecret),
		Audit:      recorder,
		Alerts:     alerts,
		Tools:      executor.Registry().Names(),
		Name:       cfg.Agent.Name,
		Version:    Version,
	})
	log.Info("agentd 启动",
		slog.String("version", Version),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.String("database", cfg.Database.Driver),
		slog.String("audit_delivery", cfg.Audit.Delivery),
	)

	serveErr := server.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := recorder.Close(shutdownCtx); err != nil {
		log.Warn("等待审计写入超时", slog.Any("error", err))
	}
	delivery.stop(shutdownCtx)

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite", "mysql":
		return sqlstore.Open(ctx, sqlstore.Config{
			Driver:          cfg.Driver,
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime.Std(),
			Migrate:         !cfg.SkipMigrations,
		})
	default:
		return nil, storage.ErrUnsupportedDriver
	}
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:     cfg.LLM.Anthropic.APIKey,
			BaseURL:    cfg.LLM.Anthropic.BaseURL,
			Model:      cfg.LLM.Anthropic.Model,
			Timeout:    cfg.Agent.LLMTimeout.Std(),
			MaxRetries: cfg.LLM.Anthropic.MaxRetries,
		})
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.Agent.LLMTimeout.Std(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

// buildNotifiers 组合内部通知渠道，日志渠道始终启用。
func buildNotifiers(cfg *config.Config, mailer mail.Sender) *alerting.FanoutDispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if len(cfg.Notifications.Email.To) > 0 {
		from := cfg.Notifications.Email.From
		if from == "" {
			from = cfg.Mail.DefaultFrom
		}
		notifiers = append(notifiers, &alerting.EmailNotifier{
			Sender:        mailer,
			From:          from,
			To:            cfg.Notifications.Email.To,
			SubjectPrefix: cfg.Notifications.Email.SubjectPrefix,
		})
	}
	if cfg.Notifications.Slack.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{WebhookURL: cfg.Notifications.Slack.WebhookURL})
	}
	return alerting.NewFanout(notifiers...)
}

// auditDelivery 持有审计写入链路以及关闭它所需的资源。
type auditDelivery struct {
	writer audit.Writer
	stop   func(ctx context.Context)
}

func startAuditDelivery(ctx context.Context, cfg config.AuditConfig, store storage.Store, alerts alerting.Dispatcher) (*auditDelivery, error) {
	storeWriter := audit.NewStoreWriter(store)

	var queue audit.Queue
	switch cfg.Delivery {
	case "direct":
		return &auditDelivery{writer: storeWriter, stop: func(context.Context) {}}, nil
	case "memory":
		queue = audit.NewMemoryQueue(cfg.QueueSize)
	case "redis":
		q, err := audit.NewRedisQueue(ctx, audit.RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Redis.Queue,
		})
		if err != nil {
			return nil, err
		}
		queue = q
	case "rabbitmq":
		q, err := audit.NewRabbitMQQueue(audit.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  true,
		})
		if err != nil {
			return nil, err
		}
		queue = q
	default:
		return nil, fmt.Errorf("未知的审计投递方式: %s", cfg.Delivery)
	}

	processor := audit.NewProcessor(storeWriter, queue,
		audit.WithWorkerCount(cfg.Workers),
		audit.WithAlertDispatcher(alerts),
	)
	processorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Named("audit").Error("审计处理器异常退出", slog.Any("error", err))
		}
	}()

	stop := func(shutdownCtx context.Context) {
		// 内存队列关闭后消费者会先处理完剩余消息再退出。
		if cfg.Delivery == "memory" {
			_ = queue.Close()
			select {
			case <-done:
			case <-shutdownCtx.Done():
			}
			cancel()
			return
		}
		cancel()
		select {
		case <-done:
		case <-shutdownCtx.Done():
		}
		if err := queue.Close(); err != nil {
			logger.Named("audit").Warn("关闭审计队列失败", slog.Any("error", err))
		}
	}
	return &auditDelivery{writer: audit.NewQueueWriter(queue), stop: stop}, nil
}
