package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nodealert/nodealert/agent/internal/compute"
	"github.com/nodealert/nodealert/agent/internal/config"
	"github.com/nodealert/nodealert/agent/internal/poller"
	"github.com/nodealert/nodealert/agent/internal/shipper"
	"github.com/nodealert/nodealert/agent/internal/state"
	"github.com/nodealert/nodealert/pkg/logging"
	"github.com/nodealert/nodealert/pkg/version"
)

const binary = "nodealert-agent"

var (
	configPath string
	noWatch    bool
)

var rootCmd = &cobra.Command{
	Use:          binary,
	Short:        "nodealert-agent - polls monitored nodes and publishes metric records",
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
	rootCmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload entities when the config file changes")
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
	a := cfg.Agent

	logCloser, err := logging.Setup(a.Log)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("nodealert-agent starting",
		"version", version.Version,
		"config", configPath,
		"entities", len(a.Entities),
		"scrape_interval", a.ScrapeInterval,
		"topic", a.Kafka.Topic,
	)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kv, err := state.Open(ctx, a.StatePath)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer kv.Close()

	w := shipper.NewWriter(a.Kafka)
	defer w.Close()
	ship := shipper.New(a.Kafka, w)

	tr := compute.NewTransformer(kv, a.PollerName, a.RetryInterval)
	p := poller.New(tr, ship, a.ScrapeInterval, a.Concurrency)
	if err := p.Apply(a); err != nil {
		slog.Warn("some entities were not registered", "err", err)
	}
	if p.Entities() == 0 {
		slog.Warn("no entities configured, agent will idle")
	}

	// The shipper outlives the poller so the last cycle's records are flushed.
	shipCtx, stopShip := context.WithCancel(context.Background())
	shipDone := make(chan struct{})
	go func() {
		ship.Run(shipCtx)
		close(shipDone)
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { p.Run(ctx); return nil })
	if !noWatch {
		g.Go(func() error {
			return config.Watch(ctx, configPath, func(next *config.Config) {
				if err := p.Apply(next.Agent); err != nil {
					slog.Warn("config: reload applied with skipped entities", "err", err)
				}
			})
		})
	}

	err = g.Wait()
	stopShip()
	<-shipDone
	slog.Info("nodealert-agent stopped", "err", err)
	return err
}
