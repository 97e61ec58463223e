package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/wsstress/internal/config"
	"github.com/rickgao/wsstress/internal/exchange"
	"github.com/rickgao/wsstress/internal/logging"
	"github.com/rickgao/wsstress/internal/metrics"
	"github.com/rickgao/wsstress/internal/stats"
	"github.com/rickgao/wsstress/internal/transport/melodyserver"
	"github.com/rickgao/wsstress/internal/transport/wsserver"
	"github.com/rickgao/wsstress/internal/version"
)

// transport is the part of a server transport main needs.
type transport interface {
	http.Handler
	Connections() int
}

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	transportName := flag.String("transport", "", "override server.transport (gorilla or melody)")
	port := flag.Int("port", 0, "override server.port")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger := logging.InitLogger("info", "text")

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *transportName != "" {
		cfg.Server.Transport = *transportName
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid flags", "error", err)
		os.Exit(1)
	}

	logger = logging.InitLogger(cfg.Log.Level, cfg.Log.Format)

	logger.Info("starting exchange server",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"transport", cfg.Server.Transport,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("exchange server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	clock := clockwork.NewRealClock()
	instanceID := uuid.NewString()
	logger = logger.With("instance_id", instanceID)

	statsCfg := stats.Config{
		Role:     metrics.RoleServer,
		Interval: cfg.Stats.Interval,
		Symbols:  cfg.Channels.Symbols(),
	}
	if !cfg.Stats.ReportIdle {
		statsCfg.SkipWhen = stats.ServerIdle
	}
	agg := stats.NewAggregator(statsCfg, clock, logger)

	engine, err := exchange.New(exchange.Config{
		Secret:    cfg.Server.Secret,
		Namespace: cfg.Server.Namespace,
	}, cfg.Channels, agg, logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	agg.SetGauges(engine)

	var (
		srv      transport
		shutdown func(context.Context) error
	)
	switch cfg.Server.Transport {
	case config.TransportMelody:
		ms := melodyserver.New(engine, melodyserver.Config{
			WriteBuffer:    cfg.Server.WriteBuffer,
			PingInterval:   cfg.Server.PingInterval,
			PongWait:       cfg.Server.PongWait,
			WriteWait:      cfg.Server.WriteWait,
			MaxMessageSize: cfg.Server.MaxMessageSize,
		}, logger)
		srv = ms
		shutdown = func(context.Context) error { return ms.Shutdown() }
	default:
		ws := wsserver.New(engine, wsserver.Config{
			WriteBuffer:    cfg.Server.WriteBuffer,
			PingInterval:   cfg.Server.PingInterval,
			PongWait:       cfg.Server.PongWait,
			WriteWait:      cfg.Server.WriteWait,
			MaxMessageSize: cfg.Server.MaxMessageSize,
		}, clock, logger)
		srv = ws
		shutdown = ws.Shutdown
	}

	wsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.Metrics.ServerPort > 0 {
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.ServerPort),
			Handler:           createHealthHandler(cfg.Metrics.Path, instanceID, engine, srv),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return agg.Run(gctx)
	})

	g.Go(func() error {
		scheme := "ws"
		if cfg.Server.TLS() {
			scheme = "wss"
		}
		logger.Info("listening",
			"addr", wsServer.Addr,
			"url", fmt.Sprintf("%s://%s/%s", scheme, wsServer.Addr, cfg.Server.Namespace),
			"channels", cfg.Channels.Symbols(),
		)
		var err error
		if cfg.Server.TLS() {
			err = wsServer.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = wsServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("websocket listener: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			logger.Info("starting metrics server", "port", cfg.Metrics.ServerPort, "path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("transport shutdown incomplete", "error", err)
		}
		wsServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			metricsServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}

// createHealthHandler serves /health and the Prometheus endpoint.
func createHealthHandler(metricsPath, instanceID string, engine *exchange.Engine, srv transport) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(metricsPath, promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status      string                  `json:"status"`
			Instance    string                  `json:"instance_id"`
			Version     string                  `json:"version"`
			Connections int                     `json:"connections"`
			Sessions    int                     `json:"sessions"`
			Channels    []exchange.ChannelState `json:"channels"`
		}{
			Status:      "healthy",
			Instance:    instanceID,
			Version:     version.String(),
			Connections: srv.Connections(),
			Sessions:    engine.Connections(),
			Channels:    engine.Channels(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
