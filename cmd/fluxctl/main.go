// Command fluxctl runs marble-diagram fixtures against fluxpipe's
// virtual-time scheduler and manages the replaystore's durable backend.
// Initializes the structured logger before anything else, loads
// internal/config to set the process-wide default buffer strategy and
// optionally start the Prometheus /metrics listener, then builds a small
// cobra command tree for its subcommands.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"fluxpipe/internal/config"
	"fluxpipe/internal/logger"
	"fluxpipe/internal/metrics"
	"fluxpipe/internal/stream"
)

func main() {
	logger.Init(logger.DefaultConfig())
	log := logger.WithComponent("fluxctl")

	cfg := config.Load()
	log.Debug("loaded config", "config", cfg.Snapshot())
	stream.SetDefaultHighWaterMark(cfg.HighWaterMark)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", metrics.Default().Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error("metrics listener stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	root := &cobra.Command{
		Use:   "fluxctl",
		Short: "fluxctl runs marble scripts and manages the replay store",
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newReplayMigrateCommand(cfg))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
