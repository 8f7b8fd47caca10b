package beacon

import (
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/webtics/internal/logging"
)

type sentBeacon struct {
	endpoint string
	payload  []byte
}

type fakeTransport struct {
	mu        sync.Mutex
	available bool
	accept    bool
	sent      []sentBeacon
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{available: true, accept: true}
}

func (f *fakeTransport) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeTransport) Send(endpoint string, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.accept {
		return false
	}
	f.sent = append(f.sent, sentBeacon{endpoint: endpoint, payload: payload})
	return true
}

func (f *fakeTransport) setAvailable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = v
}

func (f *fakeTransport) payloads(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.sent))
	for _, s := range f.sent {
		var m map[string]any
		require.NoError(t, json.Unmarshal(s.payload, &m))
		out = append(out, m)
	}
	return out
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEmitter(transport Transport) *Emitter {
	page := StaticPage{Addr: "https://shop.example.com/pricing", Ref: "https://search.example.org/?q=shop"}
	return New("http://localhost:8080", page, transport,
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(logging.Discard()),
	)
}

func TestNew_Endpoint(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/track", New("http://localhost:8080", nil, nil).Endpoint())
	assert.Equal(t, "https://collector.example.com/track", New("https://collector.example.com/", nil, nil).Endpoint())
}

func TestRecordPageView(t *testing.T) {
	transport := newFakeTransport()
	emitter := newTestEmitter(transport)

	outcome := emitter.RecordPageView()
	assert.Equal(t, OutcomeSent, outcome)

	payloads := transport.payloads(t)
	require.Len(t, payloads, 1)
	p := payloads[0]
	assert.Equal(t, "page_view", p["event"])
	assert.Equal(t, "https://shop.example.com/pricing", p["url"])
	assert.Equal(t, "https://search.example.org/?q=shop", p["ref"])
	assert.Equal(t, map[string]any{}, p["props"])
	assert.Equal(t, float64(fixedNow.UnixMilli()), p["ts"])
	assert.Equal(t, "http://localhost:8080/track", transport.sent[0].endpoint)
}

func TestOpen_RecordsPageView(t *testing.T) {
	transport := newFakeTransport()
	emitter, outcome := Open("http://localhost:8080", StaticPage{Addr: "https://example.com/", Ref: "https://search.example/"},
		transport, WithClock(func() time.Time { return fixedNow }), WithLogger(logging.Discard()))

	require.Equal(t, OutcomeSent, outcome)
	payloads := transport.payloads(t)
	require.Len(t, payloads, 1)
	assert.Equal(t, "page_view", payloads[0]["event"])
	assert.Equal(t, "https://search.example/", payloads[0]["ref"])
	assert.Equal(t, float64(fixedNow.UnixMilli()), payloads[0]["ts"])
	assert.Equal(t, 0, emitter.Pending())
}

func TestOpen_UnavailableKeepsPageView(t *testing.T) {
	transport := newFakeTransport()
	transport.setAvailable(false)

	emitter, outcome := Open("http://localhost:8080", StaticPage{Addr: "https://example.com/"}, transport, WithLogger(logging.Discard()))
	assert.Equal(t, OutcomeUnavailable, outcome)
	assert.Equal(t, 1, emitter.Pending())
}

func TestRecordPageView_NoReferrer(t *testing.T) {
	transport := newFakeTransport()
	emitter := New("http://localhost:8080", StaticPage{Addr: "https://example.com/"}, transport,
		WithLogger(logging.Discard()))

	emitter.RecordPageView()

	payloads := transport.payloads(t)
	require.Len(t, payloads, 1)
	assert.Equal(t, "", payloads[0]["ref"])
}

func TestTrack_SignupWithProps(t *testing.T) {
	transport := newFakeTransport()
	emitter := newTestEmitter(transport)

	outcome := emitter.Track("signup", map[string]any{"plan": "pro"})
	assert.True(t, outcome.Sent())

	payloads := transport.payloads(t)
	require.Len(t, payloads, 1)
	assert.Equal(t, "signup", payloads[0]["event"])
	assert.Equal(t, map[string]any{"plan": "pro"}, payloads[0]["props"])
	assert.Equal(t, "", payloads[0]["ref"], "custom events never carry the referrer")
	assert.Equal(t, "https://shop.example.com/pricing", payloads[0]["url"])
}

func TestTrack_NilPropsDefaultsToEmptyObject(t *testing.T) {
	transport := newFakeTransport()
	emitter := newTestEmitter(transport)

	emitter.Track("click", nil)

	require.Len(t, transport.sent, 1)
	assert.Contains(t, string(transport.sent[0].payload), `"props":{}`)
}

func TestTrack_OneSendPerCall(t *testing.T) {
	transport := newFakeTransport()
	emitter := newTestEmitter(transport)

	for i := 1; i <= 5; i++ {
		emitter.Track("step", map[string]any{"n": i})
		assert.Len(t, transport.sent, i)
		assert.Equal(t, 0, emitter.Pending())
	}
}

func TestTrack_NoCrossContamination(t *testing.T) {
	transport := newFakeTransport()
	emitter := newTestEmitter(transport)

	emitter.Track("a", map[string]any{"only_a": true})
	emitter.Track("b", map[string]any{"only_b": true})

	payloads := transport.payloads(t)
	require.Len(t, payloads, 2)
	assert.Equal(t, "a", payloads[0]["event"])
	assert.Equal(t, map[string]any{"only_a": true}, payloads[0]["props"])
	assert.Equal(t, "b", payloads[1]["event"])
	assert.Equal(t, map[string]any{"only_b": true}, payloads[1]["props"])
	assert.NotContains(t, string(transport.sent[0].payload), `"b"`)
	assert.NotContains(t, string(transport.sent[1].payload), "only_a")
}

func TestTrack_PropsCopiedAtCall(t *testing.T) {
	transport := newFakeTransport()
	transport.setAvailable(false)
	emitter := newTestEmitter(transport)

	props := map[string]any{"plan": "pro"}
	emitter.Track("signup", props)
	props["plan"] = "free"

	transport.setAvailable(true)
	require.Equal(t, OutcomeSent, emitter.Flush())

	payloads := transport.payloads(t)
	require.Len(t, payloads, 1)
	assert.Equal(t, "pro", payloads[0]["props"].(map[string]any)["plan"])
}

func TestTrack_NestedPropsCopiedAtCall(t *testing.T) {
	transport := newFakeTransport()
	transport.setAvailable(false)
	emitter := newTestEmitter(transport)

	cart := map[string]any{"items": 2}
	tags := []any{"sale"}
	emitter.Track("checkout", map[string]any{"cart": cart, "tags": tags})
	cart["items"] = 99
	tags[0] = "mutated"

	transport.setAvailable(true)
	require.Equal(t, OutcomeSent, emitter.Flush())

	payloads := transport.payloads(t)
	require.Len(t, payloads, 1)
	props := payloads[0]["props"].(map[string]any)
	assert.Equal(t, map[string]any{"items": float64(2)}, props["cart"])
	assert.Equal(t, []any{"sale"}, props["tags"])
}

func TestTrack_TimestampAssignedAtCreation(t *testing.T) {
	transport := newFakeTransport()
	transport.setAvailable(false)

	now := fixedNow
	emitter := New("http://localhost:8080", StaticPage{}, transport,
		WithClock(func() time.Time { return now }),
		WithLogger(logging.Discard()))

	emitter.Track("early", nil)
	now = now.Add(time.Hour)
	transport.setAvailable(true)
	emitter.Flush()

	payloads := transport.payloads(t)
	require.Len(t, payloads, 1)
	assert.Equal(t, float64(fixedNow.UnixMilli()), payloads[0]["ts"])
}

func TestFlush_EmptyQueue(t *testing.T) {
	transport := newFakeTransport()
	emitter := newTestEmitter(transport)

	assert.Equal(t, OutcomeEmpty, emitter.Flush())
	assert.Empty(t, transport.sent)
}

func TestFlush_UnavailableTransportKeepsEvent(t *testing.T) {
	transport := newFakeTransport()
	transport.setAvailable(false)
	emitter := newTestEmitter(transport)

	assert.NotPanics(t, func() {
		assert.Equal(t, OutcomeUnavailable, emitter.RecordPageView())
		assert.Equal(t, OutcomeUnavailable, emitter.Track("signup", nil))
	})
	assert.Empty(t, transport.sent)
	assert.Equal(t, 2, emitter.Pending())

	transport.setAvailable(true)
	assert.Equal(t, OutcomeSent, emitter.Flush())
	assert.Equal(t, 1, emitter.Pending())

	payloads := transport.payloads(t)
	require.Len(t, payloads, 1)
	assert.Equal(t, "page_view", payloads[0]["event"], "oldest event goes first")
}

func TestFlush_NilTransport(t *testing.T) {
	emitter := New("http://localhost:8080", StaticPage{}, nil, WithLogger(logging.Discard()))

	assert.Equal(t, OutcomeUnavailable, emitter.Track("x", nil))
	assert.Equal(t, 1, emitter.Pending())
}

func TestFlush_OnlyOldestPerCall(t *testing.T) {
	transport := newFakeTransport()
	transport.setAvailable(false)
	emitter := newTestEmitter(transport)

	emitter.Track("first", nil)
	emitter.Track("second", nil)
	emitter.Track("third", nil)
	transport.setAvailable(true)

	emitter.Flush()
	payloads := transport.payloads(t)
	require.Len(t, payloads, 1)
	assert.Equal(t, "first", payloads[0]["event"])

	emitter.Track("fourth", nil)
	payloads = transport.payloads(t)
	require.Len(t, payloads, 2)
	assert.Equal(t, "second", payloads[1]["event"])
	assert.Equal(t, 2, emitter.Pending())
}

func TestFlush_UnserializablePropsDropped(t *testing.T) {
	transport := newFakeTransport()
	emitter := newTestEmitter(transport)

	var outcome Outcome
	assert.NotPanics(t, func() {
		outcome = emitter.Track("bad", map[string]any{"ratio": math.Inf(1)})
	})
	assert.Equal(t, OutcomeDropped, outcome)
	assert.Empty(t, transport.sent)
	assert.Equal(t, 0, emitter.Pending())

	assert.Equal(t, OutcomeSent, emitter.Track("good", nil))
}

type explodingValue struct{}

func (explodingValue) MarshalJSON() ([]byte, error) {
	panic("marshal exploded")
}

func TestFlush_PanickingMarshalerDropped(t *testing.T) {
	transport := newFakeTransport()
	emitter := newTestEmitter(transport)

	var outcome Outcome
	assert.NotPanics(t, func() {
		outcome = emitter.Track("bad", map[string]any{"x": explodingValue{}})
	})
	assert.Equal(t, OutcomeDropped, outcome)
	assert.Empty(t, transport.sent)
	assert.Equal(t, 0, emitter.Pending())

	assert.Equal(t, OutcomeSent, emitter.Track("good", nil))
}

func TestFlush_RefusedByTransport(t *testing.T) {
	transport := newFakeTransport()
	transport.accept = false
	emitter := newTestEmitter(transport)

	assert.Equal(t, OutcomeRefused, emitter.Track("huge", nil))
	assert.Equal(t, 0, emitter.Pending(), "refused events are removed")
}

func TestTrack_Concurrent(t *testing.T) {
	transport := newFakeTransport()
	emitter := newTestEmitter(transport)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			emitter.Track("concurrent", map[string]any{"n": n})
		}(i)
	}
	wg.Wait()

	assert.Len(t, transport.sent, 50)
	assert.Equal(t, 0, emitter.Pending())
}

func TestOutcomeString(t *testing.T) {
	tests := map[Outcome]string{
		OutcomeSent:        "sent",
		OutcomeEmpty:       "empty",
		OutcomeUnavailable: "unavailable",
		OutcomeRefused:     "refused",
		OutcomeDropped:     "dropped",
		Outcome(99):        "unknown",
	}
	for outcome, want := range tests {
		assert.Equal(t, want, outcome.String())
	}
}
