package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vincentbai/webtics/internal/beacon"
	"github.com/vincentbai/webtics/internal/seeder"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Send synthetic visits to a collector",
	Long: `Generate fake page views and custom events and send them through the
beacon emitter, for trying out a collector without a real site.`,
	Example: `  webtics seed --visits 200 --spread 168h
  webtics seed --host http://localhost:8080 --interval 250ms --seed 42`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}

		host, _ := cmd.Flags().GetString("host")
		if host == "" {
			host = c.Beacon.Host
		}
		visits, _ := cmd.Flags().GetInt("visits")
		interval, _ := cmd.Flags().GetDuration("interval")
		spread, _ := cmd.Flags().GetDuration("spread")
		seed, _ := cmd.Flags().GetInt64("seed")
		if seed == 0 {
			seed = time.Now().UnixNano()
		}

		transport := beacon.NewHTTPTransport(beacon.TransportConfig{
			Timeout:         c.Beacon.Timeout,
			MaxPayloadBytes: c.Beacon.MaxPayloadBytes,
		}, logger)

		result, runErr := seeder.Run(cmd.Context(), seeder.Config{
			Host:     host,
			Visits:   visits,
			Interval: interval,
			Spread:   spread,
			Seed:     seed,
		}, transport, logger)

		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := transport.Close(ctx); err != nil {
			printWarn(cmd.ErrOrStderr(), "some beacons may not have been delivered: %v", err)
		}
		if runErr != nil {
			return runErr
		}

		if result.Sent() < result.Total() {
			printWarn(cmd.OutOrStdout(), "%d of %d events not sent", result.Total()-result.Sent(), result.Total())
		}
		printSuccess(cmd.OutOrStdout(), "Sent %d events from %d visits to %s", result.Sent(), result.Visits, host)
		if result.Sent() == 0 && result.Total() > 0 {
			return fmt.Errorf("no events were sent")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().String("host", "", "collector host (default: beacon.host from config)")
	seedCmd.Flags().Int("visits", 50, "number of synthetic visits")
	seedCmd.Flags().Duration("interval", 0, "pause between visits")
	seedCmd.Flags().Duration("spread", 0, "jitter event timestamps up to this far into the past")
	seedCmd.Flags().Int64("seed", 0, "random seed (default: current time)")
}
