package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vincentbai/webtics/internal/config"
	"github.com/vincentbai/webtics/internal/database"
	"github.com/vincentbai/webtics/internal/forward"
	"github.com/vincentbai/webtics/internal/logging"
	"github.com/vincentbai/webtics/internal/ratelimit"
	"github.com/vincentbai/webtics/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the collector",
	Long: `Run the HTTP collector. It accepts beacons on POST /track, stores them in
SQLite and exposes /healthz, /metrics and optionally /static/.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("address"); addr != "" {
			c.Collector.Address = addr
		}
		if path, _ := cmd.Flags().GetString("db"); path != "" {
			c.Collector.DatabasePath = path
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runCollector(ctx, c, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("address", "", "listen address (default: collector.address)")
	serveCmd.Flags().String("db", "", "SQLite database path (default: collector.database_path)")
}

// runCollector wires storage, rate limiting and forwarding from c and serves
// until ctx is done.
func runCollector(ctx context.Context, c *config.Config, log *logging.Logger) error {
	log = log.With(logging.Service("collector"))
	dbPath, err := resolveDatabasePath(c.Collector.DatabasePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := database.NewDatabase(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := []server.Option{
		server.WithLogger(log),
		server.WithStaticDir(c.Collector.StaticDir),
		server.WithMaxBodyBytes(c.Collector.MaxBodyBytes),
		server.WithTimeouts(c.Collector.ReadTimeout, c.Collector.WriteTimeout),
	}

	if c.Redis.Enabled {
		limiter, err := ratelimit.NewRedisRateLimiter(ctx, c.Redis.URL, c.Redis.Limit, c.Redis.Window)
		if err != nil {
			return err
		}
		defer limiter.Close()
		opts = append(opts, server.WithRateLimiter(limiter))
		log.Info("rate limiting enabled", "limit", c.Redis.Limit, "window", c.Redis.Window.String())
	}

	if c.NATS.Enabled {
		forwarder, err := forward.NewNATSForwarder(forward.Config{
			URL:           c.NATS.URL,
			Subject:       c.NATS.Subject,
			MaxReconnects: c.NATS.MaxReconnects,
			ReconnectWait: c.NATS.ReconnectWait,
		}, log)
		if err != nil {
			return err
		}
		defer forwarder.Close()
		opts = append(opts, server.WithForwarder(forwarder))
		log.Info("forwarding enabled", "subject", c.NATS.Subject)
	}

	log.Info("database opened", "path", dbPath)
	srv := server.NewServer(db, c.Collector.Address, opts...)
	go srv.RunStatsReporter(ctx, c.Collector.StatsInterval)
	return srv.Start(ctx)
}
