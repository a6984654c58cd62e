package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the aggregate cache",
}

var cacheFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drop every cached aggregate under the configured version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		n := env.Cache.InvalidateAll(ctx)
		fmt.Fprintf(os.Stdout, "Flushed %d key(s) under %s\n", n, env.Cache.Version())
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheFlushCmd)
	rootCmd.AddCommand(cacheCmd)
}
