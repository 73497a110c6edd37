package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/defistate/defistate-router-go/cmd/routerd/config"
	"github.com/defistate/defistate-router-go/differ"
	"github.com/defistate/defistate-router-go/graphcache"
	"github.com/defistate/defistate-router-go/router"
	"github.com/defistate/defistate-router-go/streams/jsonrpc/client"
	"github.com/defistate/defistate-router-go/streams/jsonrpc/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// create the log handler
	rootLogHandler := slog.NewJSONHandler(os.Stdout, nil)
	close := func() {
		os.Exit(1)
	}

	rootLogger := slog.New(rootLogHandler)
	prometheusRegistry := prometheus.DefaultRegisterer
	cfg, err := loadConfig()
	if err != nil {
		rootLogger.Error("Failed to load configuration", "error", err)
		close()
	}

	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshotDiffer, err := differ.NewSnapshotDiffer(&differ.Config{
		Registry: prometheusRegistry,
		Logger:   rootLogger.With("component", "differ"),
	})
	if err != nil {
		rootLogger.Error("Failed to initialize Snapshot Differ", "error", err)
		close()
	}

	cache, err := graphcache.New(rootLogger.With("component", "graphcache"), graphcache.WithDiffer(snapshotDiffer))
	if err != nil {
		rootLogger.Error("Failed to initialize Graph Cache", "error", err)
		close()
	}

	r, err := router.New(
		router.WithLogger(rootLogger.With("component", "router")),
		router.WithRegisterer(prometheusRegistry),
		router.WithConfig(cfg.Router),
		router.WithGraphCache(cache),
	)
	if err != nil {
		rootLogger.Error("Failed to initialize Router", "error", err)
		close()
	}

	rpcServer, _, err := server.NewServer(&server.Config{
		Router: r,
		Logger: rootLogger.With("component", "jsonrpc-server"),
	})
	if err != nil {
		rootLogger.Error("Failed to initialize RPC Server", "error", err)
		close()
	}
	defer rpcServer.Stop()

	mux := http.NewServeMux()
	mux.Handle("/", rpcServer)
	mux.Handle("/ws", rpcServer.WebsocketHandler([]string{"*"}))
	servers := []*http.Server{{Addr: cfg.ListenAddr, Handler: mux}}
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux})
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			rootLogger.Info("Listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.UpstreamURL != "" {
		upstream, err := client.NewClient(ctx, client.Config{
			URL:        cfg.UpstreamURL,
			Logger:     rootLogger.With("component", "jsonrpc-client"),
			BufferSize: cfg.SnapshotBufferSize,
			Store:      cache,
		})
		if err != nil {
			rootLogger.Error("Failed to initialize Client", "url", cfg.UpstreamURL, "error", err)
			close()
		}
		g.Go(func() error {
			for {
				select {
				case snapshot := <-upstream.Updates():
					rootLogger.Info("Snapshot updated", "snapshot", snapshot.ID, "version", snapshot.Version, "pools", len(snapshot.Pools))
				case err, ok := <-upstream.Err():
					if ok {
						return err
					}
					return nil
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		rootLogger.Error("Router daemon stopped", "error", err)
		close()
	}
	rootLogger.Info("Router daemon stopped")
}

func loadConfig() (*config.RouterdConfig, error) {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}
