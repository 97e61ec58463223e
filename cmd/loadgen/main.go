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
	"text/tabwriter"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/wsstress/internal/config"
	"github.com/rickgao/wsstress/internal/exchange"
	"github.com/rickgao/wsstress/internal/harness"
	"github.com/rickgao/wsstress/internal/logging"
	"github.com/rickgao/wsstress/internal/metrics"
	"github.com/rickgao/wsstress/internal/stats"
	"github.com/rickgao/wsstress/internal/transport/loopback"
	"github.com/rickgao/wsstress/internal/transport/wsclient"
	"github.com/rickgao/wsstress/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	profileName := flag.String("profile", "", "override client.profile")
	transportName := flag.String("transport", "", "override client.transport (gorilla or loopback)")
	url := flag.String("url", "", "override client.url")
	duration := flag.Duration("duration", 0, "stop after this long (0 runs until interrupted)")
	listProfiles := flag.Bool("list-profiles", false, "print the available profiles and exit")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger := logging.InitLogger("info", "text")

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if *listProfiles {
		printProfiles(cfg.AllProfiles())
		return
	}

	if *profileName != "" {
		cfg.Client.Profile = *profileName
	}
	if *transportName != "" {
		cfg.Client.Transport = *transportName
	}
	if *url != "" {
		cfg.Client.URL = *url
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid flags", "error", err)
		os.Exit(1)
	}

	logger = logging.InitLogger(cfg.Log.Level, cfg.Log.Format)

	logger.Info("starting load generator",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"transport", cfg.Client.Transport,
	)

	if err := run(cfg, *duration, logger); err != nil {
		logger.Error("load generator failed", "error", err)
		os.Exit(1)
	}
	logger.Info("load generator stopped")
}

func run(cfg *config.Config, duration time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

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

	profile, ok := cfg.ActiveProfile()
	if !ok {
		return fmt.Errorf("unknown profile %q", cfg.Client.Profile)
	}

	clock := clockwork.NewRealClock()

	statsCfg := stats.Config{
		Role:     metrics.RoleClient,
		Interval: cfg.Stats.Interval,
		Symbols:  cfg.Channels.Symbols(),
	}
	if !cfg.Stats.ReportIdle {
		statsCfg.SkipWhen = stats.ClientIdle
	}
	agg := stats.NewAggregator(statsCfg, clock, logger)

	tgt, err := newTarget(cfg, agg, clock, logger)
	if err != nil {
		return err
	}
	defer tgt.close()

	h, err := harness.New(harness.Config{
		Profile:         profile,
		Catalog:         cfg.Channels,
		RampWindow:      cfg.Client.RampWindow,
		ReconnectJitter: cfg.Client.ReconnectJitter,
		ReconnectStep:   cfg.Client.ReconnectStep,
		Seed:            cfg.Client.Seed,
	}, tgt.dialer, agg, clock, logger)
	if err != nil {
		return fmt.Errorf("create harness: %w", err)
	}
	agg.SetGauges(h)

	var metricsServer *http.Server
	if cfg.Metrics.ClientPort > 0 {
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.ClientPort),
			Handler:           createHealthHandler(cfg.Metrics.Path, h),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return agg.Run(gctx)
	})

	g.Go(func() error {
		return h.Run(gctx)
	})

	g.Go(func() error {
		return tgt.run(gctx)
	})

	if metricsServer != nil {
		g.Go(func() error {
			logger.Info("starting metrics server", "port", cfg.Metrics.ClientPort, "path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			metricsServer.Shutdown(shutdownCtx)
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}

	final := agg.Swap()
	logger.Info("final window",
		"run_id", h.RunID(),
		"active", final.Active,
		"errors", final.Errors,
		"drops", final.Drops,
		"messages", final.Messages,
		"transactions", final.Transactions,
	)
	return err
}

// target is what the harness dials. For the loopback transport it also owns
// an in-process exchange engine with its own server-side stats.
type target struct {
	dialer    harness.Dialer
	serverAgg *stats.Aggregator // nil for a remote server
	close     func()
}

// run reports the in-process server's stats until ctx is cancelled.
func (t *target) run(ctx context.Context) error {
	if t.serverAgg == nil {
		return nil
	}
	return t.serverAgg.Run(ctx)
}

// newTarget builds the target for client.transport.
func newTarget(cfg *config.Config, agg *stats.Aggregator, clock clockwork.Clock, logger *slog.Logger) (*target, error) {
	if cfg.Client.Transport == config.TransportLoopback {
		serverCfg := stats.Config{
			Role:     metrics.RoleServer,
			Interval: cfg.Stats.Interval,
			Symbols:  cfg.Channels.Symbols(),
		}
		if !cfg.Stats.ReportIdle {
			serverCfg.SkipWhen = stats.ServerIdle
		}
		serverAgg := stats.NewAggregator(serverCfg, clock, logger)
		engine, err := exchange.New(exchange.Config{
			Secret:    cfg.Server.Secret,
			Namespace: cfg.Server.Namespace,
		}, cfg.Channels, serverAgg, logger)
		if err != nil {
			return nil, fmt.Errorf("create loopback engine: %w", err)
		}
		serverAgg.SetGauges(engine)
		network := loopback.New(engine, loopback.Options{
			Token:         cfg.Client.Token,
			Namespace:     cfg.Server.Namespace,
			Buffer:        cfg.Client.BufferSize,
			IncludeSender: cfg.Client.IncludeSender,
		})
		logger.Info("using in-process exchange", "include_sender", cfg.Client.IncludeSender)
		return &target{dialer: network, serverAgg: serverAgg, close: network.Close}, nil
	}

	dialer := wsclient.NewDialer(wsclient.ClientConfig{
		URL:              cfg.Client.URL,
		Token:            cfg.Client.Token,
		HandshakeTimeout: cfg.Client.HandshakeTimeout,
		PingInterval:     cfg.Client.PingInterval,
		PingTimeout:      cfg.Client.PingTimeout,
		WriteTimeout:     cfg.Client.WriteTimeout,
		BufferSize:       cfg.Client.BufferSize,
		OnDrop:           agg.Dropped,
	}, logger)
	logger.Info("dialing exchange", "url", cfg.Client.URL)
	return &target{dialer: dialer, close: func() {}}, nil
}

// createHealthHandler serves /health, /debug/clients and the Prometheus endpoint.
func createHealthHandler(metricsPath string, h *harness.Harness) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(metricsPath, promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		states := make(map[string]int)
		for _, c := range h.Clients() {
			states[c.State.String()]++
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "running",
			"version":  version.String(),
			"run_id":   h.RunID(),
			"active":   h.Stats().Active(),
			"states":   states,
			"channels": h.ChannelGauges(),
		})
	})

	mux.HandleFunc("/debug/clients", func(w http.ResponseWriter, r *http.Request) {
		clients := h.Clients()

		// Limit to first 100 for debugging
		limit := 100
		showing := clients
		if len(showing) > limit {
			showing = showing[:limit]
		}

		type clientJSON struct {
			Ordinal int    `json:"ordinal"`
			Role    string `json:"role"`
			State   string `json:"state"`
			ID      string `json:"id,omitempty"`
			Channel string `json:"channel,omitempty"`
			Retries int    `json:"retries"`
		}
		out := make([]clientJSON, len(showing))
		for i, c := range showing {
			out[i] = clientJSON{
				Ordinal: c.Ordinal,
				Role:    c.Role.String(),
				State:   c.State.String(),
				Channel: c.Channel,
				Retries: c.RetryCount,
			}
			if c.ID != 0 {
				out[i].ID = c.ID.String()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count":   len(clients),
			"showing": len(out),
			"clients": out,
		})
	})

	return mux
}

func printProfiles(profiles []harness.Profile) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCLIENTS\tTRADERS\tFREQ\tPUBSUB\tDESCRIPTION")
	for _, p := range profiles {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%g\t%t\t%s\n", p.Name, p.NumClients, p.ActiveTraders, p.TradeFreq, p.PubSub, p.Description)
	}
	tw.Flush()
}
