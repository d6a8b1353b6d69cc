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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nodealert/nodealert/pkg/logging"
	"github.com/nodealert/nodealert/pkg/version"
	"github.com/nodealert/nodealert/server/internal/api"
	"github.com/nodealert/nodealert/server/internal/auth"
	"github.com/nodealert/nodealert/server/internal/config"
	"github.com/nodealert/nodealert/server/internal/dispatch"
	"github.com/nodealert/nodealert/server/internal/publish"
	"github.com/nodealert/nodealert/server/internal/receiver"
	"github.com/nodealert/nodealert/server/internal/store"
	"github.com/nodealert/nodealert/server/internal/ws"
)

const (
	binary = "nodealert-server"

	heartbeatInterval = 30 * time.Second
	pruneInterval     = time.Hour
	shutdownTimeout   = 10 * time.Second
)

var (
	configPath string
	noWatch    bool
)

var rootCmd = &cobra.Command{
	Use:          binary,
	Short:        "nodealert-server - threshold and availability alerting for monitored nodes",
	SilenceUsage: true,
	RunE:         run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String(binary))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload alert thresholds when the config file changes")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a := cfg.Alerter

	logCloser, err := logging.Setup(a.Log)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("nodealert-server starting",
		"version", version.Version,
		"config", configPath,
		"http_port", a.HTTPPort,
		"workers", a.Workers,
		"groups", len(a.Groups),
		"kafka", a.Kafka.Enabled(),
		"auth_mode", a.Auth.Mode,
	)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// Recent alerts with background TTL eviction.
	recent := store.NewRecent(a.Recent.TTL)
	g.Go(func() error { recent.Run(ctx); return nil })

	var history *store.History
	if a.History.Path != "" {
		history, err = store.OpenHistory(ctx, a.History.Path, a.History.Retention)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer history.Close()
		g.Go(func() error { history.Run(ctx, pruneInterval); return nil })
	}

	hub := ws.New(recent, heartbeatInterval)
	g.Go(func() error { hub.Run(ctx); return nil })

	pub := buildPublisher(a, recent, history, hub)
	defer pub.Close()

	disp := dispatch.New(a.AlertConfig(), pub, dispatch.Options{
		Shards:    a.Workers,
		QueueSize: a.QueueSize,
	})
	g.Go(func() error { return disp.Run(ctx) })

	if a.Kafka.Enabled() {
		consumer := receiver.NewKafkaConsumer(
			receiver.NewKafkaReader(a.Kafka.Brokers, a.Kafka.RecordsTopic, a.Kafka.GroupID),
			disp, 0, 0,
		)
		defer consumer.Close()
		g.Go(func() error { return consumer.Run(ctx) })
	}

	if !noWatch {
		g.Go(func() error {
			return config.Watch(ctx, configPath, func(next *config.Config) {
				if err := disp.SetConfig(ctx, next.Alerter.AlertConfig()); err != nil {
					slog.Error("config: apply failed", "err", err)
				}
			})
		})
	}

	opts := api.Options{
		Entities: disp,
		Recent:   recent,
		Ingest:   receiver.NewIngestHandler(disp),
		Stream:   hub,
		Auth:     auth.APIKey(a.Auth.Mode, a.Auth.EffectiveHeader(), a.Auth.Key()),
	}
	if history != nil {
		opts.History = history
	}
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.HTTPPort),
		Handler:           api.New(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", a.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	slog.Info("nodealert-server stopped", "err", err)
	return err
}

// buildPublisher assembles the alert sinks. Kafka delivery is required when
// configured; every other sink is best effort.
func buildPublisher(a config.AlerterConfig, recent *store.Recent, history *store.History, hub *ws.Hub) *publish.Publisher {
	pub := publish.New()
	if a.Kafka.Enabled() {
		w := publish.NewKafkaWriter(a.Kafka.Brokers, a.Kafka.AlertsTopic, a.Kafka.Compression)
		pub.Require(publish.NewKafkaSink(w))
	}
	pub.Add(publish.NewStoreSink(recent, history))
	pub.Add(hub)
	for i, wh := range a.Webhooks {
		url := wh.URL()
		if url == "" {
			slog.Warn("webhook skipped: url env var is empty", "index", i, "url_env", wh.URLEnv)
			continue
		}
		pub.Add(publish.NewWebhookSink(wh.Type, url, wh.RatePerSecond, wh.Timeout))
	}
	return pub
}
