package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

var typesCmd = &cobra.Command{
	Use:   "types NAME...",
	Short: "Print the metadata of the named types",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd.Context(), c.cfg.Timeout)
		defer cancel()

		resp, err := c.mg.Transport().Types(ctx, &transport.TypesRequest{Names: args})
		if err != nil {
			return fmt.Errorf("types: %w", err)
		}
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(typesCmd)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}
