// Package cmd implements the servectl command-line driver: the sole
// external entry point onto the Server façade, since the wire
// protocol surface itself is out of scope.
package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/servecore/runtime/internal/config"
	"github.com/servecore/runtime/internal/eventlog"
	"github.com/servecore/runtime/internal/manager"
	"github.com/servecore/runtime/internal/poolalloc"
	"github.com/servecore/runtime/internal/refbackend"
	"github.com/servecore/runtime/internal/repostore"
	"github.com/servecore/runtime/internal/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "servectl",
	Short: "Control and inspect a model serving runtime",
	Long: `servectl drives a model repository manager and inference server:
scanning a model repository, loading and unloading model versions,
reporting readiness and load state, and submitting reference inference
requests.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "servecore.yaml", "path to the server config file")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// app bundles everything a subcommand needs: the loaded config, the
// repository store, the manager, and the server façade sitting on top.
type app struct {
	cfg    *config.Config
	store  *repostore.Store
	mgr    *manager.Manager
	srv    *server.Server
	events *eventlog.Store
	logger *slog.Logger
}

// buildApp loads configuration and wires the manager/server stack the
// same way for every subcommand, so each one observes the same state a
// running `servectl serve` would.
func buildApp(ctx context.Context) (*app, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	store := repostore.New(cfg.ModelRepositoryPaths, logger)

	events, err := eventlog.Open(ctx, cfg.EventLogPath, logger)
	if err != nil {
		return nil, err
	}

	mgr := manager.New(store, refbackend.New, manager.ControlMode(cfg.ModelControlMode),
		manager.WithEventRecorder(events), manager.WithLogger(logger),
		manager.WithStrictModelConfig(cfg.StrictModelConfig))

	pinned := poolalloc.New(cfg.PinnedMemoryPoolBytes)
	devices := poolalloc.NewDevicePools(cfg.CudaMemoryPoolBytes)
	alloc := poolalloc.NewHostAllocator(pinned, devices)

	srv := server.New(cfg, mgr, store, alloc, logger, 0)

	return &app{cfg: cfg, store: store, mgr: mgr, srv: srv, events: events, logger: logger}, nil
}

func (a *app) Close() {
	if a.events != nil {
		a.events.Close()
	}
}
