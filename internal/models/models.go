package models

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"
	"time"
)

// PageView is the event name recorded when a page context is opened.
const PageView = "page_view"

type Event struct {
	Event string         `json:"event"`
	TS    int64          `json:"ts"`    // ms since epoch, assigned at creation
	URL   string         `json:"url"`   // page address
	Ref   string         `json:"ref"`   // referrer, may be empty
	Props map[string]any `json:"props"` // arbitrary JSON, never nil
}

// NewEvent captures an event at the given instant. props is deep-copied
// through nested maps and slices so later changes by the caller do not leak
// into the queued event; nil becomes {}.
func NewEvent(name string, at time.Time, url, ref string, props map[string]any) Event {
	copied := make(map[string]any, len(props))
	seen := map[uintptr]bool{}
	for k, v := range props {
		copied[k] = cloneValue(v, seen)
	}
	return Event{
		Event: name,
		TS:    at.UnixMilli(),
		URL:   url,
		Ref:   ref,
		Props: copied,
	}
}

// cloneValue copies the JSON-shaped containers in v. A container that
// contains itself is left shared; encoding it fails later anyway.
func cloneValue(v any, seen map[uintptr]bool) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return t
		}
		p := reflect.ValueOf(t).Pointer()
		if seen[p] {
			return t
		}
		seen[p] = true
		defer delete(seen, p)
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = cloneValue(x, seen)
		}
		return out
	case []any:
		if t == nil {
			return t
		}
		p := reflect.ValueOf(t).Pointer()
		if len(t) > 0 && seen[p] {
			return t
		}
		if len(t) > 0 {
			seen[p] = true
			defer delete(seen, p)
		}
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x, seen)
		}
		return out
	case map[string]string:
		return maps.Clone(t)
	case []string:
		return slices.Clone(t)
	case []int:
		return slices.Clone(t)
	case []float64:
		return slices.Clone(t)
	}
	return v
}

// Time returns TS as a UTC time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.TS).UTC()
}

// Encode returns the beacon payload for e. Map keys are written in sorted
// order, so encoding the same event twice yields identical bytes.
func (e Event) Encode() ([]byte, error) {
	if e.Props == nil {
		e.Props = map[string]any{}
	}
	return json.Marshal(e)
}
