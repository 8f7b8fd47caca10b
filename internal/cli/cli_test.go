package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/webtics/internal/config"
	"github.com/vincentbai/webtics/internal/database"
	"github.com/vincentbai/webtics/internal/logging"
	"github.com/vincentbai/webtics/internal/models"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("WEBTICS_CONFIG_DIR", t.TempDir())
	t.Setenv("WEBTICS_LOGGING_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	expected := map[string]bool{
		"serve":    false,
		"track":    false,
		"pageview": false,
		"events":   false,
		"config":   false,
		"seed":     false,
	}

	for _, cmd := range rootCmd.Commands() {
		name := strings.Fields(cmd.Use)[0]
		if _, ok := expected[name]; ok {
			expected[name] = true
		}
	}

	for name, found := range expected {
		assert.True(t, found, "expected command %q to be registered", name)
	}
}

func TestParseProps(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{name: "none", want: map[string]any{}},
		{name: "string value", pairs: []string{"plan=pro"}, want: map[string]any{"plan": "pro"}},
		{name: "json values", pairs: []string{"n=3", "ok=true", "tags=[\"a\"]"}, want: map[string]any{"n": float64(3), "ok": true, "tags": []any{"a"}}},
		{name: "empty value", pairs: []string{"note="}, want: map[string]any{"note": ""}},
		{name: "value with equals", pairs: []string{"q=a=b"}, want: map[string]any{"q": "a=b"}},
		{name: "json object", raw: `{"items":2}`, want: map[string]any{"items": float64(2)}},
		{name: "pairs override json", pairs: []string{"items=5"}, raw: `{"items":2,"x":"y"}`, want: map[string]any{"items": float64(5), "x": "y"}},
		{name: "missing equals", pairs: []string{"plan"}, wantErr: true},
		{name: "empty key", pairs: []string{"=pro"}, wantErr: true},
		{name: "invalid json", raw: `{bad`, wantErr: true},
		{name: "json array", raw: `[1,2]`, wantErr: true},
		{name: "json null", raw: `null`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProps(tt.pairs, tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDataDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/home/u", "Library", "Application Support", "webtics"), dataDir("darwin", "/home/u"))
	assert.Equal(t, filepath.Join("/home/u", "AppData", "Roaming", "webtics"), dataDir("windows", "/home/u"))
	assert.Equal(t, filepath.Join("/home/u", ".local", "share", "webtics"), dataDir("linux", "/home/u"))
}

func TestResolveDatabasePath(t *testing.T) {
	path, err := resolveDatabasePath("/tmp/custom.db")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", path)

	path, err = resolveDatabasePath("")
	require.NoError(t, err)
	assert.Equal(t, "events.db", filepath.Base(path))
}

func captureCollector(t *testing.T) (*httptest.Server, <-chan map[string]any) {
	t.Helper()
	got := make(chan map[string]any, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err == nil {
			select {
			case got <- payload:
			default:
			}
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)
	return server, got
}

func TestTrackCommand(t *testing.T) {
	server, got := captureCollector(t)

	out, err := runCLI(t, "track", "signup", "--host", server.URL, "--url", "https://example.com/pricing", "--prop", "plan=pro")
	require.NoError(t, err)
	assert.Contains(t, out, "Beacon sent to "+server.URL+"/track")

	select {
	case payload := <-got:
		assert.Equal(t, "signup", payload["event"])
		assert.Equal(t, "https://example.com/pricing", payload["url"])
		assert.Equal(t, "", payload["ref"])
		assert.Equal(t, map[string]any{"plan": "pro"}, payload["props"])
	case <-time.After(5 * time.Second):
		t.Fatal("collector never received the beacon")
	}
}

func TestPageviewCommand(t *testing.T) {
	server, got := captureCollector(t)

	_, err := runCLI(t, "pageview", "--host", server.URL, "--url", "https://example.com/", "--ref", "https://news.example.org/")
	require.NoError(t, err)

	select {
	case payload := <-got:
		assert.Equal(t, "page_view", payload["event"])
		assert.Equal(t, "https://news.example.org/", payload["ref"])
		assert.Equal(t, map[string]any{}, payload["props"])
	case <-time.After(5 * time.Second):
		t.Fatal("collector never received the beacon")
	}
}

func TestSeedCommand(t *testing.T) {
	server, got := captureCollector(t)

	out, err := runCLI(t, "seed", "--host", server.URL, "--visits", "3", "--seed", "11")
	require.NoError(t, err)
	assert.Contains(t, out, "from 3 visits")

	select {
	case payload := <-got:
		assert.NotEmpty(t, payload["event"])
	case <-time.After(5 * time.Second):
		t.Fatal("collector never received a seeded beacon")
	}
}

func TestTrackCommandRequiresEventName(t *testing.T) {
	_, err := runCLI(t, "track")
	assert.Error(t, err)
}

func TestEventsCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")
	db, err := database.NewDatabase(dbPath)
	require.NoError(t, err)
	_, err = db.InsertEvents(context.Background(), []models.Event{
		{Event: "page_view", TS: 1000, URL: "https://example.com/"},
		{Event: "signup", TS: 2000, URL: "https://example.com/pricing", Props: map[string]any{"plan": "pro"}},
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, err := runCLI(t, "events", "--db", dbPath, "--output", "json", "--limit", "10")
	require.NoError(t, err)

	var views []eventView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "signup", views[0].Event)
	assert.Equal(t, "pro", views[0].Props["plan"])
	assert.Equal(t, "page_view", views[1].Event)
}

func TestRenderEventsFormats(t *testing.T) {
	events := []database.StoredEvent{{
		ID:    "0190-abc",
		TSISO: "2009-02-13T23:31:30Z",
		Event: models.Event{Event: "signup", TS: 1234567890000, URL: "https://example.com", Props: map[string]any{"plan": "pro"}},
	}}

	var buf bytes.Buffer
	eventsCmd.SetOut(&buf)
	defer eventsCmd.SetOut(nil)

	require.NoError(t, renderEvents(eventsCmd, "table", events))
	assert.Contains(t, buf.String(), "EVENT")
	assert.Contains(t, buf.String(), "signup")

	buf.Reset()
	require.NoError(t, renderEvents(eventsCmd, "yaml", events))
	assert.Contains(t, buf.String(), "event: signup")

	buf.Reset()
	require.NoError(t, renderEvents(eventsCmd, "table", nil))
	assert.Contains(t, buf.String(), "No events stored yet")

	assert.Error(t, renderEvents(eventsCmd, "xml", events))
}

func TestConfigShowCommand(t *testing.T) {
	t.Setenv("WEBTICS_BEACON_HOST", "http://collector.internal:9000")

	out, err := runCLI(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "beacon:")
	assert.Contains(t, out, "host: http://collector.internal:9000")
	assert.Contains(t, out, "stats_interval: 1m0s")
}

func TestRunCollectorStops(t *testing.T) {
	c := config.Default()
	c.Collector.Address = "127.0.0.1:0"
	c.Collector.DatabasePath = filepath.Join(t.TempDir(), "data", "events.db")
	c.Collector.StatsInterval = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runCollector(ctx, c, logging.Discard()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop")
	}
	assert.FileExists(t, c.Collector.DatabasePath)
}

func TestRunCollectorRedisUnreachable(t *testing.T) {
	c := config.Default()
	c.Collector.DatabasePath = filepath.Join(t.TempDir(), "events.db")
	c.Redis.Enabled = true
	c.Redis.URL = "redis://127.0.0.1:1/0"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	assert.Error(t, runCollector(ctx, c, logging.Discard()))
}
