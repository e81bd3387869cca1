package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dealrelay/service/internal/activity"
	"dealrelay/service/internal/bridge"
	"dealrelay/service/internal/config"
	"dealrelay/service/internal/crm"
	"dealrelay/service/internal/metrics"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay bot",
	Long: `Run the relay bot.

With SLACK_APP_TOKEN set the bot connects over Socket Mode. Without it, Slack
must be configured to deliver events to /slack/events and interactivity to
/slack/interactions on LISTEN_ADDR.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer cancel()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting dealrelay",
		"version", version,
		"commit", commit,
		"socket_mode", cfg.SocketMode(),
		"listen_addr", cfg.ListenAddr,
		"note_reactions", cfg.NoteReactions,
		"archive_reactions", cfg.ArchiveReactions,
		"dedupe_window", cfg.DedupeWindow)

	crmClient, err := crm.New(crm.Config{
		BaseURL:           cfg.CRMBaseURL,
		APIToken:          cfg.CRMAPIToken,
		RequestsPerSecond: cfg.CRMRateLimit,
	})
	if err != nil {
		return fmt.Errorf("creating CRM client: %w", err)
	}

	// Activity events are optional; relaying works without NATS.
	var sink activity.Sink = activity.Nop{}
	if cfg.NatsURL != "" {
		pub, err := activity.Connect(activity.Config{
			NatsURL:   cfg.NatsURL,
			NatsToken: cfg.NatsToken,
			Subject:   cfg.NatsSubject,
		}, logger)
		if err != nil {
			logger.Warn("NATS unavailable, activity events disabled", "url", cfg.NatsURL, "error", err)
		} else {
			defer pub.Close()
			sink = pub
		}
	}

	relayMetrics := metrics.New()

	dedup := bridge.NewDedup(cfg.DedupeWindow, logger)
	go dedup.RunPruner(ctx, cfg.DedupeWindow)

	bot := bridge.NewBot(bridge.BotConfig{
		BotToken: cfg.SlackBotToken,
		AppToken: cfg.SlackAppToken,
		CRM:      crmClient,
		Dedup:    dedup,
		Policy: bridge.IgnorePolicy{
			UpstreamUserID:   cfg.UpstreamUserID,
			FilenamePrefixes: cfg.IgnoreFilenamePrefixes,
			CommentMarkers:   cfg.IgnoreCommentMarkers,
		},
		Sink:                sink,
		Metrics:             relayMetrics,
		Logger:              logger,
		Debug:               cfg.Debug,
		NoteReactions:       cfg.NoteReactions,
		ArchiveReactions:    cfg.ArchiveReactions,
		ArchiveAllowedUsers: cfg.ArchiveAllowedUsers,
		RelayAttachments:    cfg.RelayAttachments,
		NotifyOnDedupeHit:   cfg.DedupeNotifyOnHit,
		NotesLookback:       cfg.NotesLookback,
		FileNameLabel:       cfg.FileNameLabel,
		Location:            cfg.NoteTimezone,
	})

	if err := bot.Authenticate(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()

	// Health endpoints are always available.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, version)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !bot.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"not_ready","reason":"slack_disconnected"}`)
			return
		}
		fmt.Fprintf(w, `{"status":"ok"}`)
	})

	mux.Handle("/metrics", relayMetrics.Handler())

	if !cfg.SocketMode() {
		bridge.NewWebhookHandler(bot, cfg.SlackSigningSecret, logger).Register(mux)
		logger.Info("Slack webhook endpoints enabled", "events", "/slack/events", "interactions", "/slack/interactions")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting HTTP server", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	go func() {
		if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Slack bot stopped", "error", err)
		}
	}()

	logger.Info("dealrelay ready")

	// Block until shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down dealrelay")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	return nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
