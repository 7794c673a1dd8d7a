package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as a long-lived server: bootstrap the model repository and wait",
	RunE: func(c *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.srv.Init(ctx); err != nil {
			return err
		}
		a.logger.Info("server live", "model_repository_paths", a.cfg.ModelRepositoryPaths, "control_mode", a.cfg.ModelControlMode)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				a.logger.Info("received SIGHUP, polling model repository")
				if err := a.srv.PollModelRepository(ctx); err != nil {
					a.logger.Error("poll failed", "error", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				a.logger.Info("shutting down")
				return a.srv.Stop(context.Background())
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
