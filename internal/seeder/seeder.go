// Package seeder generates synthetic visits and sends them through a beacon
// emitter, for exercising a collector during development.
package seeder

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/vincentbai/webtics/internal/beacon"
	"github.com/vincentbai/webtics/internal/logging"
	"github.com/vincentbai/webtics/internal/models"
)

var customEvents = []string{"signup", "add_to_cart", "checkout", "search", "share"}

var sections = []string{"", "pricing", "blog", "docs", "about", "products"}

// Visit is one synthetic page load plus the custom events fired on it.
type Visit struct {
	URL    string
	Ref    string
	Events []Custom
}

type Custom struct {
	Name  string
	Props map[string]any
}

// Generator produces visits for a single fake site.
type Generator struct {
	faker *gofakeit.Faker
	site  string
}

// NewGenerator returns a generator; the same seed yields the same visits.
func NewGenerator(seed int64) *Generator {
	f := gofakeit.New(seed)
	return &Generator{faker: f, site: "https://" + f.DomainName()}
}

func (g *Generator) Site() string {
	return g.site
}

func (g *Generator) Visit() Visit {
	v := Visit{URL: g.site + "/" + g.faker.RandomString(sections)}
	if g.faker.Bool() {
		v.Ref = g.faker.URL()
	}

	for i := g.faker.Number(0, 2); i > 0; i-- {
		name := g.faker.RandomString(customEvents)
		v.Events = append(v.Events, Custom{Name: name, Props: g.props(name)})
	}
	return v
}

func (g *Generator) props(name string) map[string]any {
	switch name {
	case "signup":
		return map[string]any{"plan": g.faker.RandomString([]string{"free", "pro", "team"})}
	case "add_to_cart":
		return map[string]any{"sku": g.faker.UUID()[:8], "price": g.faker.Price(1, 200)}
	case "checkout":
		return map[string]any{"items": g.faker.Number(1, 6), "total": g.faker.Price(5, 500)}
	case "search":
		return map[string]any{"query": g.faker.Word()}
	default:
		return nil
	}
}

// Config controls a seeding run.
type Config struct {
	Host     string
	Visits   int
	Interval time.Duration // pause between visits
	Spread   time.Duration // timestamps are jittered up to Spread into the past
	Seed     int64
}

// Result tallies emitter outcomes across a run.
type Result struct {
	Visits   int
	Outcomes map[beacon.Outcome]int
}

func (r Result) Sent() int {
	return r.Outcomes[beacon.OutcomeSent]
}

func (r Result) Total() int {
	total := 0
	for _, n := range r.Outcomes {
		total += n
	}
	return total
}

// Run sends cfg.Visits visits through transport, one emitter per visit, and
// stops early when ctx is done.
func Run(ctx context.Context, cfg Config, transport beacon.Transport, logger *logging.Logger) (Result, error) {
	if cfg.Visits < 0 {
		return Result{}, fmt.Errorf("visit count must not be negative, got %d", cfg.Visits)
	}
	if logger == nil {
		logger = logging.Default()
	}

	gen := NewGenerator(cfg.Seed)
	jitter := gofakeit.New(cfg.Seed + 1)
	result := Result{Outcomes: map[beacon.Outcome]int{}}

	logger.Info("seeding started", "site", gen.Site(), "visits", cfg.Visits, "host", cfg.Host)

	for i := 0; i < cfg.Visits; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		at := time.Now()
		if cfg.Spread > 0 {
			at = at.Add(-time.Duration(jitter.Int64() % int64(cfg.Spread)).Abs())
		}
		clock := func() time.Time { return at }

		visit := gen.Visit()
		emitter, opened := beacon.Open(cfg.Host, beacon.StaticPage{Addr: visit.URL, Ref: visit.Ref}, transport,
			beacon.WithClock(clock), beacon.WithLogger(logger))

		result.Outcomes[opened]++
		for _, ev := range visit.Events {
			result.Outcomes[emitter.Track(ev.Name, ev.Props)]++
		}
		result.Visits++

		logger.Debug("visit sent", logging.Event(models.PageView), "url", visit.URL, "custom_events", len(visit.Events))

		if cfg.Interval > 0 && i < cfg.Visits-1 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(cfg.Interval):
			}
		}
	}

	logger.Info("seeding finished", "visits", result.Visits, "sent", result.Sent(), "total", result.Total())
	return result, nil
}
