// Package app wires the server components together and owns their
// lifecycle. Construction follows dependency order: broker first, then the
// websocket bridge and API on top of it, the HTTP server last. Shutdown
// runs in reverse.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"chamahub/internal/api"
	"chamahub/internal/broker"
	"chamahub/internal/config"
	"chamahub/internal/websocket"
)

type Application struct {
	config     *config.Config
	log        zerolog.Logger
	broker     *broker.Broker
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication builds all components from the validated configuration.
func NewApplication(cfg *config.Config, log zerolog.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	b := broker.New(
		broker.WithLogger(log),
		broker.WithChannelBuffer(cfg.Broker.ChannelBuffer),
		broker.WithLogCapacities(broker.LogCapacities{
			Messages:      cfg.Broker.MessageCapacity,
			Proposals:     cfg.Broker.ProposalCapacity,
			Announcements: cfg.Broker.AnnouncementCapacity,
		}),
		broker.WithRateLimit(cfg.Broker.RateLimitPerMinute),
		broker.WithMiddleware(broker.LoggingMiddleware(log)),
	)

	wsHandler := websocket.NewHandler(b, log, websocket.WithTimeouts(
		cfg.WebSocket.PingInterval,
		cfg.WebSocket.ReadTimeout,
		cfg.WebSocket.WriteTimeout,
	))
	apiServer := api.NewServer(b, wsHandler, log)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		log:        log,
		broker:     b,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start brings the HTTP server up and verifies it survives its first
// moments before reporting success.
func (app *Application) Start(ctx context.Context) error {
	app.log.Info().Str("module", "app").Str("addr", app.httpServer.Addr).Msg("starting")

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info().Str("module", "app").Msg("started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down gracefully: the HTTP server stops accepting requests,
// then every live broker connection is detached, which closes the
// remaining websocket sessions.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info().Str("module", "app").Msg("shutting down")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Warn().Str("module", "app").Err(err).Msg("http shutdown")
	}

	for _, conn := range app.broker.Connections() {
		app.broker.Detach(conn)
	}

	app.log.Info().Str("module", "app").Msg("shutdown complete")
	return nil
}

// Broker exposes the event broker, mainly for tests and embedded use.
func (app *Application) Broker() *broker.Broker {
	return app.broker
}

// Addr returns the HTTP listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
