// Model gateway sidecar: serves the configured model backend over gRPC so
// several skill servers can share one CLI or API client.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"

	"github.com/ashureev/portfolio-skills/internal/config"
	"github.com/ashureev/portfolio-skills/internal/llm"
)

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

	if cfg.LLM.Backend == config.BackendGRPC {
		slog.Error("The gateway sidecar cannot forward to another gRPC gateway; set LLM_BACKEND to api or cli")
		os.Exit(1)
	}

	backend, err := llm.New(cfg.LLM, logger)
	if err != nil {
		slog.Error("Failed to initialize model backend", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			slog.Error("Failed to close model backend", "error", closeErr)
		}
	}()

	lis, err := net.Listen("tcp", cfg.LLM.GRPCListen)
	if err != nil {
		slog.Error("Failed to listen", "addr", cfg.LLM.GRPCListen, "error", err)
		os.Exit(1)
	}

	srv := grpc.NewServer()
	llm.RegisterGatewayServer(srv, backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down gateway...")
		srv.GracefulStop()
	}()

	slog.Info("Model gateway listening", "addr", lis.Addr().String(), "backend", backend.Name())
	if err := srv.Serve(lis); err != nil {
		slog.Error("Gateway server failed", "error", err)
		return
	}
	slog.Info("Gateway stopped")
}
