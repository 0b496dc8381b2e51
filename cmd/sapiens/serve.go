package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sapienshq/sapiens/internal/backend"
	"github.com/sapienshq/sapiens/internal/config"
	"github.com/sapienshq/sapiens/internal/db"
	"github.com/sapienshq/sapiens/internal/notify"
	"github.com/sapienshq/sapiens/internal/orchestrator"
	"github.com/sapienshq/sapiens/internal/pipeline"
	"github.com/sapienshq/sapiens/internal/room"
	"github.com/sapienshq/sapiens/internal/server"
	"github.com/sapienshq/sapiens/internal/session"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Sapiens API server",
		Long: `Runs the Sapiens HTTP API: session initialization, chat turns,
room management, and the phase orchestrator that materializes rooms
when conversations leave onboarding. Shuts down gracefully on SIGINT
or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Sapiens config file")
	return cmd
}

// loadConfig reads the config file, falling back to built-in defaults
// when the file does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runServe(ctx context.Context, out io.Writer, cfg *config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("serve: build logger: %w", err)
	}
	defer logger.Sync()

	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	bc, err := backend.New(backend.Opts{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	repo, err := room.NewRepo(room.Opts{DB: gormDB})
	if err != nil {
		return err
	}

	notifier, err := buildNotifier(cfg.Notify, logger)
	if err != nil {
		return err
	}

	pipe, err := pipeline.New(pipeline.Opts{
		Repo:     repo,
		Backend:  bc,
		Notifier: notifier,
		Logger:   logger.Named("pipeline"),
	})
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Opts{
		Repo:         repo,
		Notifier:     notifier,
		Logger:       logger.Named("orchestrator"),
		InitialPhase: cfg.Orchestrator.InitialPhase,
		BufferTTL:    time.Duration(cfg.Orchestrator.BufferTTLMinutes) * time.Minute,
	})
	if err != nil {
		return err
	}

	store, closeStore := buildSessionStore(cfg.Session)
	defer closeStore()

	gate, err := session.New(session.Opts{
		Store:     store,
		Registrar: bc,
		TTL:       time.Duration(cfg.Session.TTLMinutes) * time.Minute,
		Logger:    logger.Named("session"),
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Opts{
		DB:           gormDB,
		Repo:         repo,
		Pipeline:     pipe,
		Orchestrator: orch,
		Gate:         gate,
		Backend:      bc,
		Logger:       logger.Named("server"),
		Port:         cfg.Server.Port,
	})
	if err != nil {
		return err
	}

	janitor := cron.New()
	_, err = janitor.AddFunc(cfg.Orchestrator.SweepCron, func() {
		now := time.Now()
		orch.Sweep(now)
		if ms, ok := store.(*session.MemoryStore); ok {
			ms.Sweep(now)
		}
	})
	if err != nil {
		return fmt.Errorf("serve: schedule sweep %q: %w", cfg.Orchestrator.SweepCron, err)
	}
	janitor.Start()
	defer janitor.Stop()

	fmt.Fprintf(out, "Sapiens API listening on :%d (backend %s)\n", cfg.Server.Port, cfg.Backend.BaseURL)
	return srv.Start(ctx)
}

// buildNotifier assembles the configured chat-platform notifiers.
// Nothing configured means no notifications, not an error.
func buildNotifier(cfg config.NotifyConfig, logger *zap.Logger) (notify.Notifier, error) {
	var notifiers notify.Multi

	if cfg.Slack.BotToken != "" && cfg.Slack.Channel != "" {
		sl, err := notify.NewSlack(notify.SlackOpts{
			BotToken:  cfg.Slack.BotToken,
			ChannelID: cfg.Slack.Channel,
		})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, sl)
		logger.Info("slack notifications enabled", zap.String("channel", cfg.Slack.Channel))
	}

	if cfg.Discord.Token != "" && cfg.Discord.Channel != "" {
		dc, err := notify.NewDiscord(notify.DiscordOpts{
			Token:     cfg.Discord.Token,
			ChannelID: cfg.Discord.Channel,
		})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, dc)
		logger.Info("discord notifications enabled", zap.String("channel", cfg.Discord.Channel))
	}

	if len(notifiers) == 0 {
		return notify.Noop{}, nil
	}
	return notifiers, nil
}

// buildSessionStore picks the configured flag store. The returned func
// releases the store's resources on shutdown.
func buildSessionStore(cfg config.SessionConfig) (session.Store, func()) {
	if cfg.Store == "redis" {
		rs := session.NewRedisStore(cfg.Redis)
		return rs, func() { rs.Close() }
	}
	return session.NewMemoryStore(), func() {}
}
