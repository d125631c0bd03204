// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

// Package main is the entry point for the Costboard gateway server.
//
// The gateway terminates WebSocket connections for the Costboard web and
// mobile clients, tracks who is online in which project or discussion
// room, and fans out chat messages, notifications, and typing indicators
// delivered by the backend services over the REST API.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Load settings from environment variables and config files (Koanf v2)
//  2. Identity Verifier: JWT verification against the shared API signing secret
//  3. Gateway: connection registry, room membership, and the dispatch queue
//  4. HTTP Server: WebSocket endpoints, presence queries, and the deliver API
//  5. Supervisor Tree: suture-based supervision of the dispatch loop and server
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (GATEWAY_ prefix)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// Required settings:
//   - GATEWAY_SECURITY_JWT_SECRET: 32+ character secret shared with the API
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Drains in-flight requests (bounded by the shutdown timeout)
//   - Stops the dispatch loop and closes WebSocket connections
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/costboard/gateway/internal/api"
	"github.com/costboard/gateway/internal/auth"
	"github.com/costboard/gateway/internal/config"
	"github.com/costboard/gateway/internal/gateway"
	"github.com/costboard/gateway/internal/logging"
	"github.com/costboard/gateway/internal/supervisor"
	"github.com/costboard/gateway/internal/supervisor/services"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Int("dispatch_buffer", cfg.Gateway.DispatchBuffer).
		Msg("Starting Costboard gateway")

	verifier, err := auth.NewVerifier(cfg.Security.JWTSecret, cfg.Security.TokenLeeway)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize identity verifier")
	}

	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (GATEWAY_SECURITY_RATE_LIMIT_DISABLED=true)")
		logging.Warn().Msg("This should only be used in test environments!")
	}

	gw := gateway.New(gateway.Config{
		DispatchBuffer: cfg.Gateway.DispatchBuffer,
	})

	handler := api.NewHandler(gw, cfg)
	router := api.NewRouter(handler, verifier, cfg)

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Setup(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		// No ReadTimeout/WriteTimeout: they would tear down long-lived
		// WebSocket connections. Per-message deadlines are handled by
		// the connection pumps.
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog compatibility.
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddRealtimeService(services.NewGatewayService(gw))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Wait for the supervisor to finish, from either a signal or an error.
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Gateway stopped gracefully")
}
