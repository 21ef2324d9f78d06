package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aiox-platform/jarvis/internal/api"
	"github.com/aiox-platform/jarvis/internal/auth"
	"github.com/aiox-platform/jarvis/internal/chatlog"
	"github.com/aiox-platform/jarvis/internal/config"
	mw "github.com/aiox-platform/jarvis/internal/middleware"
	inats "github.com/aiox-platform/jarvis/internal/nats"
	iredis "github.com/aiox-platform/jarvis/internal/redis"
	"github.com/aiox-platform/jarvis/internal/server"
	"github.com/aiox-platform/jarvis/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	chatStore := chatlog.NewStore(redisClient, cfg.Chat.MaxMessages, cfg.Chat.TTL)
	opts := session.Options{ChatLog: chatStore}
	checks := api.HealthChecks{
		Redis: func(ctx context.Context) error { return iredis.Ping(ctx, redisClient) },
	}

	// NATS (optional)
	var natsClient *inats.Client
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to nats", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		opts.Events = inats.NewPublisher(natsClient.JetStream())
		checks.NATS = natsClient.Healthy
	} else {
		slog.Info("NATS_URL not set, event bus disabled")
	}

	// Sessions
	manager := session.NewManager(cfg, opts)
	handler := session.NewHandler(manager, cfg.CORS.AllowedOrigins)

	if natsClient != nil {
		consumers := inats.NewConsumerManager(natsClient.JetStream())
		go func() {
			if err := consumers.ConsumeControl(ctx, manager.HandleControl); err != nil {
				slog.Error("control consumer stopped", "error", err)
			}
		}()
	}

	go manager.RunReaper(ctx, cfg.Session.ReapInterval)

	tokens := auth.NewTokenManager(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	limiter := mw.NewRateLimiter(redisClient, "control", cfg.RateLimit.Requests, cfg.RateLimit.Window)

	// Router
	router := api.NewRouter(checks, api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		RateLimiter:        limiter.Middleware,
	}, api.HandlerSet{
		ListSessions:      handler.List,
		GetSession:        handler.Get,
		StopSession:       handler.Stop,
		GetConversation:   handler.Conversation,
		ClearConversation: handler.ClearConversation,
		SetSystemPrompt:   handler.SetSystemPrompt,
		ChatLog:           handler.ChatLog,
		DeviceSocket:      handler.DeviceSocket,

		AuthMiddleware:     auth.Middleware(tokens),
		OperatorMiddleware: auth.RequireOperator,
	})

	// Start server
	srv := server.New(cfg.Server, router)
	srv.OnShutdown(func(context.Context) { cancel() })
	srv.OnShutdown(manager.CloseAll)
	if err := srv.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
