package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/huykn/actioncache"
	"github.com/huykn/actioncache/fx/cachenodefx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a cache node",
	Long: `Run a cache node until interrupted.

The node joins the cluster through the configured endpoints, serves peers
on listen_addr and, when metrics_addr is set, exposes Prometheus metrics
at /metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	configPath  string
	listenAddr  string
	nodeID      string
	seeds       []string
	metricsAddr string
)

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "override listen_addr")
	serveCmd.Flags().StringVar(&nodeID, "node-id", "", "override node_id")
	serveCmd.Flags().StringSliceVar(&seeds, "join", nil, "override cluster_endpoints")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics", "", "override metrics_addr")
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (actioncache.Config, error) {
	cfg := actioncache.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = actioncache.LoadConfig(configPath); err != nil {
			return cfg, err
		}
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if nodeID != "" {
		cfg.NodeID = nodeID
	}
	if len(seeds) > 0 {
		cfg.ClusterEndpoints = seeds
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			newLogger,
			newRegistry,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		cachenodefx.Module,
		fx.Invoke(serveMetrics),
	)
	app.Run()
	return app.Err()
}

func newLogger(cfg actioncache.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

// Registry is both the registerer handed to the node and the gatherer
// served on /metrics.
type Registry struct {
	fx.Out

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

func newRegistry() Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return Registry{Registerer: reg, Gatherer: reg}
}

// serveMetrics starts the /metrics endpoint when metrics_addr is set.
// The node is requested so its metrics register before serving.
func serveMetrics(lc fx.Lifecycle, cfg actioncache.Config, g prometheus.Gatherer, log *zap.Logger, _ *actioncache.Node) {
	if cfg.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.MetricsAddr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server stopped", zap.Error(err))
				}
			}()
			log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
