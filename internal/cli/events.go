package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vincentbai/webtics/internal/database"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List the most recent stored events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("db")
		if path == "" {
			path, err = resolveDatabasePath(c.Collector.DatabasePath)
			if err != nil {
				return err
			}
		}
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("output")

		db, err := database.NewDatabase(path)
		if err != nil {
			return err
		}
		defer db.Close()

		events, err := db.ListEvents(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return renderEvents(cmd, format, events)
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().String("db", "", "SQLite database path (default: collector.database_path)")
	eventsCmd.Flags().IntP("limit", "n", 20, "number of events to show")
	eventsCmd.Flags().StringP("output", "o", "table", "output format: table, json, yaml")
}

type eventView struct {
	ID    string         `json:"id" yaml:"id"`
	Event string         `json:"event" yaml:"event"`
	TS    int64          `json:"ts" yaml:"ts"`
	Time  string         `json:"time" yaml:"time"`
	URL   string         `json:"url" yaml:"url"`
	Ref   string         `json:"ref" yaml:"ref"`
	Props map[string]any `json:"props" yaml:"props"`
}

func renderEvents(cmd *cobra.Command, format string, events []database.StoredEvent) error {
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{
			ID:    e.ID,
			Event: e.Event.Event,
			TS:    e.Event.TS,
			Time:  e.TSISO,
			URL:   e.Event.URL,
			Ref:   e.Event.Ref,
			Props: e.Event.Props,
		})
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		return writeJSON(out, views)
	case "yaml":
		return writeYAML(out, views)
	case "table":
		if len(views) == 0 {
			printWarn(out, "No events stored yet")
			return nil
		}
		rows := make([][]string, 0, len(views))
		for _, v := range views {
			rows = append(rows, []string{v.Time, v.Event, v.URL, v.Ref, fmt.Sprintf("%d", len(v.Props))})
		}
		writeTable(out, []string{"TIME", "EVENT", "URL", "REF", "PROPS"}, rows)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
