package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var unloadTimeoutSecs int

var unloadCmd = &cobra.Command{
	Use:   "unload <model>",
	Short: "Unload a model, draining in-flight requests first",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		a, err := buildApp(context.Background())
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(unloadTimeoutSecs)*time.Second)
		defer cancel()

		// Each invocation is a fresh process with an empty Manager, so the
		// target model must be discovered (and loaded) before it can be
		// unloaded.
		if err := a.mgr.Bootstrap(ctx, map[string]bool{args[0]: true}); err != nil {
			return err
		}

		if err := a.srv.UnloadModel(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("%s unloaded\n", args[0])
		return nil
	},
}

func init() {
	unloadCmd.Flags().IntVar(&unloadTimeoutSecs, "timeout", 30, "seconds to wait for in-flight requests to drain before forcing unload")
	rootCmd.AddCommand(unloadCmd)
}
