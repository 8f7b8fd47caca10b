package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vincentbai/webtics/internal/beacon"
)

// drainTimeout bounds how long the CLI waits for in-flight beacons on exit.
const drainTimeout = 5 * time.Second

var trackCmd = &cobra.Command{
	Use:   "track <event>",
	Short: "Send a custom event beacon",
	Long: `Send one custom event to the collector. The beacon is fire-and-forget:
a successful hand-off does not mean the collector stored the event.`,
	Example: `  webtics track signup --prop plan=pro --url https://example.com/pricing
  webtics track checkout --props-json '{"items":3,"total":42.5}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		props, err := propsFromFlags(cmd)
		if err != nil {
			return err
		}
		return emit(cmd, func(e *beacon.Emitter) beacon.Outcome {
			return e.Track(args[0], props)
		})
	},
}

var pageviewCmd = &cobra.Command{
	Use:   "pageview",
	Short: "Send a page_view beacon for --url and --ref",
	Example: `  webtics pageview --url https://example.com/ --ref https://news.example.org/`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return emit(cmd, (*beacon.Emitter).RecordPageView)
	},
}

func init() {
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(pageviewCmd)

	for _, c := range []*cobra.Command{trackCmd, pageviewCmd} {
		c.Flags().String("url", "", "page address recorded with the event")
		c.Flags().String("ref", "", "referrer recorded with page views")
		c.Flags().String("host", "", "collector host (default: beacon.host from config)")
	}
	trackCmd.Flags().StringArrayP("prop", "p", nil, "property as key=value; values are parsed as JSON when possible (repeatable)")
	trackCmd.Flags().String("props-json", "", "properties as a JSON object")
}

// emit builds an emitter for the command's flags, runs send and waits for the
// beacon to leave the process.
func emit(cmd *cobra.Command, send func(*beacon.Emitter) beacon.Outcome) error {
	c, err := requireConfig()
	if err != nil {
		return err
	}

	host, _ := cmd.Flags().GetString("host")
	if host == "" {
		host = c.Beacon.Host
	}
	pageURL, _ := cmd.Flags().GetString("url")
	ref, _ := cmd.Flags().GetString("ref")

	transport := beacon.NewHTTPTransport(beacon.TransportConfig{
		Timeout:         c.Beacon.Timeout,
		MaxPayloadBytes: c.Beacon.MaxPayloadBytes,
	}, logger)
	emitter := beacon.New(host, beacon.StaticPage{Addr: pageURL, Ref: ref}, transport, beacon.WithLogger(logger))

	outcome := send(emitter)

	ctx, cancel := context.WithTimeout(cmd.Context(), drainTimeout)
	defer cancel()
	if err := transport.Close(ctx); err != nil {
		printWarn(cmd.ErrOrStderr(), "beacon may not have been delivered: %v", err)
	}

	if !outcome.Sent() {
		return fmt.Errorf("event not sent: %s", outcome)
	}
	printSuccess(cmd.OutOrStdout(), "Beacon sent to %s", emitter.Endpoint())
	return nil
}

func propsFromFlags(cmd *cobra.Command) (map[string]any, error) {
	pairs, _ := cmd.Flags().GetStringArray("prop")
	raw, _ := cmd.Flags().GetString("props-json")
	return parseProps(pairs, raw)
}

// parseProps merges a JSON object with key=value pairs; pairs win on conflict.
func parseProps(pairs []string, rawJSON string) (map[string]any, error) {
	props := map[string]any{}
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &props); err != nil {
			return nil, fmt.Errorf("invalid --props-json: %w", err)
		}
		if props == nil {
			return nil, fmt.Errorf("invalid --props-json: expected an object")
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --prop %q: expected key=value", pair)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		props[key] = parsed
	}
	return props, nil
}
