// Package beacon records page views and custom events and forwards each one
// as an individual fire-and-forget beacon to a collector.
package beacon

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vincentbai/webtics/internal/logging"
	"github.com/vincentbai/webtics/internal/metrics"
	"github.com/vincentbai/webtics/internal/models"
)

// TrackPath is appended to the collector host to form the beacon endpoint.
const TrackPath = "/track"

// Page exposes the navigation state read when an event is created.
type Page interface {
	URL() string
	Referrer() string
}

// StaticPage is a Page with fixed values.
type StaticPage struct {
	Addr string
	Ref  string
}

func (p StaticPage) URL() string      { return p.Addr }
func (p StaticPage) Referrer() string { return p.Ref }

// Transport is a non-blocking send primitive. Send must not wait for the
// network; it returns false when the payload was not accepted for delivery.
type Transport interface {
	Available() bool
	Send(endpoint string, payload []byte) bool
}

// Emitter owns the in-memory event queue for one page context.
type Emitter struct {
	endpoint  string
	page      Page
	transport Transport
	now       func() time.Time
	logger    *logging.Logger

	mu    sync.Mutex
	queue []models.Event
}

type Option func(*Emitter)

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) { e.now = now }
}

func WithLogger(logger *logging.Logger) Option {
	return func(e *Emitter) { e.logger = logger }
}

// New creates an Emitter that sends to host + "/track". A nil transport is
// treated as permanently unavailable.
func New(host string, page Page, transport Transport, opts ...Option) *Emitter {
	if page == nil {
		page = StaticPage{}
	}
	e := &Emitter{
		endpoint:  strings.TrimRight(host, "/") + TrackPath,
		page:      page,
		transport: transport,
		now:       time.Now,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logging.Endpoint(e.endpoint))
	return e
}

// Open creates an Emitter for page and immediately records its page view,
// the way a page script does on load.
func Open(host string, page Page, transport Transport, opts ...Option) (*Emitter, Outcome) {
	e := New(host, page, transport, opts...)
	return e, e.RecordPageView()
}

// Endpoint returns the URL beacons are sent to.
func (e *Emitter) Endpoint() string {
	return e.endpoint
}

// RecordPageView queues a page_view event for the current page, carrying
// the page's referrer, and flushes.
func (e *Emitter) RecordPageView() Outcome {
	event := models.NewEvent(models.PageView, e.now(), e.page.URL(), e.page.Referrer(), nil)
	return e.enqueueAndFlush(event)
}

// Track queues a custom event and flushes. props may be nil, which is sent
// as an empty object. Custom events never carry a referrer. Neither name nor
// props are validated.
func (e *Emitter) Track(name string, props map[string]any) Outcome {
	event := models.NewEvent(name, e.now(), e.page.URL(), "", props)
	return e.enqueueAndFlush(event)
}

// Flush attempts to send the oldest queued event. At most one event is
// sent per call.
func (e *Emitter) Flush() Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked()
}

// Pending returns the number of queued events.
func (e *Emitter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Emitter) enqueueAndFlush(event models.Event) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, event)
	return e.flushLocked()
}

func (e *Emitter) flushLocked() Outcome {
	outcome := e.sendOldest()
	metrics.BeaconFlushes.WithLabelValues(outcome.String()).Inc()
	e.logger.Debug("flush", logging.Outcome(outcome.String()), "pending", len(e.queue))
	return outcome
}

func (e *Emitter) sendOldest() Outcome {
	if e.transport == nil || !e.transport.Available() {
		e.logger.Debug("beacon transport unavailable", "pending", len(e.queue))
		return OutcomeUnavailable
	}
	if len(e.queue) == 0 {
		return OutcomeEmpty
	}

	event := e.queue[0]
	e.queue[0] = models.Event{}
	e.queue = e.queue[1:]

	payload, err := encode(event)
	if err != nil {
		e.logger.Warn("dropping unserializable event", logging.Event(event.Event), logging.Error(err))
		return OutcomeDropped
	}

	if !e.transport.Send(e.endpoint, payload) {
		e.logger.Warn("beacon refused by transport", logging.Event(event.Event), "bytes", len(payload))
		return OutcomeRefused
	}
	metrics.BeaconPayloadBytes.Add(float64(len(payload)))
	return OutcomeSent
}

// encode turns a panic from a props value's MarshalJSON into an error.
func encode(event models.Event) (payload []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("encoding %q panicked: %v", event.Event, r)
		}
	}()
	return event.Encode()
}
