package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/kasse/internal"
	"github.com/dukerupert/kasse/internal/email"
	"github.com/dukerupert/kasse/internal/notify"
	"github.com/dukerupert/kasse/internal/telemetry"
	"github.com/dukerupert/kasse/internal/worker"
	"github.com/nats-io/nats.go"
)

// The notifier consumes payment notifications from NATS and emails the
// shopper. Run as many replicas as needed: the queue group hands each
// message to one of them.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel, "kasse-notifier")
	slog.SetDefault(logger)

	flushSentry, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return err
	}
	defer flushSentry()

	if cfg.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required for the notifier")
	}

	sender := email.NewSMTPSender(email.SMTPConfig{
		Host:     cfg.Email.Host,
		Port:     int(cfg.Email.Port),
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
		Timeout:  cfg.Email.Timeout,
	}, logger)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Email.Timeout)
	if err := sender.Ping(pingCtx); err != nil {
		// Mail relays come and go; deliveries retry on their own.
		logger.Warn("SMTP server not reachable at startup", "host", cfg.Email.Host, "error", err)
	}
	cancel()

	mailer, err := email.NewService(sender, cfg.Email.From, cfg.Email.FromName, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize email service: %w", err)
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name("kasse-notifier"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connection failed: %w", err)
	}
	defer nc.Close()

	w := worker.NewWorker(mailer, worker.Config{
		WorkerID:       hostname(),
		MaxConcurrency: int(cfg.Worker.Concurrency),
		MaxAttempts:    int(cfg.Worker.MaxAttempts),
		JobTimeout:     cfg.Email.Timeout + 5*time.Second,
	}, logger)

	// The subscription hands messages to the pool without blocking the NATS
	// dispatcher longer than the channel buffer allows.
	jobs := make(chan notify.Notification, int(cfg.Worker.Concurrency)*2)
	sub, err := notify.Subscribe(ctx, nc, cfg.NATS.SubjectPrefix, cfg.NATS.QueueGroup, logger, func(ctx context.Context, n notify.Notification) error {
		select {
		case jobs <- n:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe failed: %w", err)
	}
	logger.Info("Notifier listening",
		"prefix", cfg.NATS.SubjectPrefix,
		"queue_group", cfg.NATS.QueueGroup,
		"concurrency", cfg.Worker.Concurrency,
	)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, jobs) }()

	<-ctx.Done()
	logger.Info("Shutting down notifier...")
	if err := sub.Drain(); err != nil {
		logger.Warn("nats drain failed", "error", err)
	}
	if err := <-done; err != nil {
		return err
	}
	logger.Info("Notifier stopped")
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "notifier"
	}
	return h
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
