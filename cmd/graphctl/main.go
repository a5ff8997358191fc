// Command graphctl queries a running entity service through the entity graph.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/localnerve/jam-build-entitygraph/internal/config"
	"github.com/localnerve/jam-build-entitygraph/internal/lazy"
	"github.com/localnerve/jam-build-entitygraph/internal/metrics"
	"github.com/localnerve/jam-build-entitygraph/internal/model"
	"github.com/localnerve/jam-build-entitygraph/internal/serversync"
	"github.com/localnerve/jam-build-entitygraph/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:           "graphctl",
	Short:         "Query an entity service through the entity graph",
	Long:          "graphctl materializes queries and type metadata from an entity service. The service is read from ENTITYGRAPH_URL.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("env-file", "f", "", "path to a .env file")
	rootCmd.PersistentFlags().String("url", "", "entity service url (overrides ENTITYGRAPH_URL)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log loads and requests")
}

// client is the graph wiring shared by the commands.
type client struct {
	cfg     *config.ClientConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	mg      *lazy.Manager
	sync    *serversync.ServerSync
}

func newClient(cmd *cobra.Command) (*client, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		cfg.URL = url
	}

	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	opts := []transport.HTTPOption{transport.WithTimeout(cfg.Timeout)}
	if cfg.Session != "" {
		opts = append(opts, transport.WithSessionToken(cfg.Session))
	}
	m := metrics.New(prometheus.NewRegistry())
	tr := transport.Observed(transport.NewHTTP(cfg.URL, opts...), m)

	mg := lazy.New(model.New(model.WithLogger(logger)), tr,
		lazy.WithLogger(logger),
		lazy.WithListLoading(cfg.ListLoading),
		lazy.WithObserver(m),
	)
	return &client{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		mg:      mg,
		sync:    serversync.New(mg, serversync.WithLogger(logger), serversync.WithObserver(m)),
	}, nil
}
