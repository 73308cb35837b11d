// Portfolio skills server: conversational domain mapping over HTTP, SSE,
// WebSocket and MCP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ashureev/portfolio-skills/internal/api"
	"github.com/ashureev/portfolio-skills/internal/config"
	"github.com/ashureev/portfolio-skills/internal/convlog"
	"github.com/ashureev/portfolio-skills/internal/identity"
	"github.com/ashureev/portfolio-skills/internal/llm"
	"github.com/ashureev/portfolio-skills/internal/mapping"
	"github.com/ashureev/portfolio-skills/internal/mcpserver"
	"github.com/ashureev/portfolio-skills/internal/middleware"
	"github.com/ashureev/portfolio-skills/internal/store"
)

const janitorInterval = 10 * time.Minute

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"llm_backend", cfg.LLM.Backend,
		"store_backend", cfg.Store.Backend,
	)

	// Initialize dependencies.
	st, err := openStore(cfg.Store)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	if err := st.Ping(context.Background()); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store ready", "backend", cfg.Store.Backend)

	gw, err := llm.New(cfg.LLM, logger)
	if err != nil {
		slog.Error("Failed to initialize model gateway", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := gw.Close(); closeErr != nil {
			slog.Error("Failed to close model gateway", "error", closeErr)
		}
	}()
	slog.Info("Model gateway initialized", "backend", gw.Name())

	conversationLog, err := convlog.New(convlog.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLog.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	skill := mapping.New(st, gw,
		mapping.WithLogger(logger),
		mapping.WithConversationLog(conversationLog),
		mapping.WithTurnLimits(cfg.LLM.MaxTokens, cfg.LLM.Temperature),
	)

	limiter := api.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 0)
	defer limiter.Close()

	// Initialize handlers.
	skillHandler := api.NewSkillHandler(skill, limiter, api.SkillConfig{
		MaxRequestBody: cfg.MaxRequestBody,
		SSEKeepalive:   cfg.SSEKeepalive,
	}, logger)
	healthHandler := api.NewHealthHandler(st, api.HealthInfo{
		Environment:  cfg.Environment,
		StoreBackend: cfg.Store.Backend,
		Gateway:      gw.Name(),
	})
	wsHandler := api.NewWebSocketHandler(skill, limiter, cfg.AllowedOrigins, cfg.MaxRequestBody, logger)
	mcpServer := mcpserver.New(skill, api.Version)
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(cfg.IsLocal()))

	healthHandler.RegisterHealth(r)
	skillHandler.RegisterRoutes(r)
	r.Get("/ws/domain-mapping", wsHandler.ServeHTTP)
	r.Handle("/mcp", mcpHandler)

	// SSE and WebSocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartJanitor(ctx, st, cfg.Store.SessionTTL, janitorInterval, logger)
	slog.Info("Session janitor started", "session_ttl", cfg.Store.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}

func openStore(cfg config.StoreConfig) (store.ContextStore, error) {
	if cfg.Backend == config.StoreSQLite {
		st, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return store.NewMemory(), nil
}
