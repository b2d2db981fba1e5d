// Command FlowPilot serves the construction-portal guided conversation flows
// over HTTP and SMS.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BTreeMap/FlowPilot/internal/api"
	"github.com/BTreeMap/FlowPilot/internal/events"
	"github.com/BTreeMap/FlowPilot/internal/flow"
	"github.com/BTreeMap/FlowPilot/internal/lockfile"
	"github.com/BTreeMap/FlowPilot/internal/messaging"
	"github.com/BTreeMap/FlowPilot/internal/scheduler"
	"github.com/BTreeMap/FlowPilot/internal/store"
	"github.com/BTreeMap/FlowPilot/internal/twiliosms"
)

func main() {
	initializeLogger(DefaultLogLevel)
	loadDotEnv()

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(2)
	}
	initializeLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping FlowPilot")
	if err := run(ctx, cfg); err != nil {
		slog.Error("FlowPilot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("FlowPilot exited successfully")
}

// initializeLogger installs a text handler on stdout at the named level.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, cfg Config) error {
	lock, err := lockfile.AcquireLock(cfg.StateDir, cfg.APIAddr)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.New(buildStoreOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	publisher, err := buildPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	states := flow.NewStoreBasedStateManager(st)
	handlerOpts := []messaging.HandlerOption{messaging.WithPublisher(publisher)}
	apiOpts := []api.Option{api.WithAddr(cfg.APIAddr)}

	twilioSvc, err := buildTwilioService(cfg)
	if err != nil {
		return err
	}
	if twilioSvc != nil {
		handlerOpts = append(handlerOpts,
			messaging.WithMessagingService(twilioSvc),
			messaging.WithOnCallNumber(cfg.Twilio.OnCallNumber),
			messaging.WithDeduper(st))
		apiOpts = append(apiOpts, api.WithTwilioService(twilioSvc))
		if err := twilioSvc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		defer twilioSvc.Stop()
	}

	respHandler := messaging.NewResponseHandler(flow.NewEngine(), states, handlerOpts...)
	respHandler.Start(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	job := scheduler.NewRetentionJob(st, cfg.Retention.MaxAge)
	if err := scheduler.ScheduleRetention(sched, cfg.Retention.Schedule, job); err != nil {
		return fmt.Errorf("failed to schedule retention: %w", err)
	}

	return api.NewServer(respHandler, states, apiOpts...).Run(ctx)
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(cfg Config) []store.Option {
	var opts []store.Option
	if cfg.Redis.Addr != "" {
		slog.Debug("Configuring Redis store", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB, "ttl", cfg.Redis.TTL)
		return append(opts, store.WithRedisAddr(cfg.Redis.Addr), store.WithRedisDB(cfg.Redis.DB), store.WithRedisTTL(cfg.Redis.TTL))
	}
	if cfg.DatabaseDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return opts
	}
	switch store.DetectDSNType(cfg.DatabaseDSN) {
	case "postgres":
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		opts = append(opts, store.WithPostgresDSN(cfg.DatabaseDSN))
	case "redis":
		slog.Debug("Detected Redis URL, configuring Redis store")
		opts = append(opts, store.WithRedisAddr(cfg.DatabaseDSN), store.WithRedisTTL(cfg.Redis.TTL))
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", cfg.DatabaseDSN)
		opts = append(opts, store.WithSQLiteDSN(cfg.DatabaseDSN))
	}
	return opts
}

// buildPublisher returns a Kafka publisher when brokers are configured.
func buildPublisher(cfg Config) (events.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		slog.Debug("No Kafka brokers configured, flow events are not published")
		return events.NoopPublisher{}, nil
	}
	p, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
	}
	slog.Info("Publishing flow events to Kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	return p, nil
}

// buildTwilioService returns the SMS service, or nil when Twilio is not configured.
func buildTwilioService(cfg Config) (*messaging.TwilioService, error) {
	if !cfg.Twilio.Enabled() {
		slog.Info("Twilio credentials not set, SMS channel disabled")
		return nil, nil
	}
	client, err := twiliosms.NewClient(
		twiliosms.WithAccountSID(cfg.Twilio.AccountSID),
		twiliosms.WithAuthToken(cfg.Twilio.AuthToken),
		twiliosms.WithFrom(cfg.Twilio.FromNumber),
		twiliosms.WithWhatsApp(cfg.Twilio.WhatsApp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Twilio client: %w", err)
	}
	return messaging.NewTwilioService(client), nil
}
