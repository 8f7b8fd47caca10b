package server

import (
	"context"
	"time"

	"github.com/vincentbai/webtics/internal/logging"
	"github.com/vincentbai/webtics/internal/metrics"
)

// RunStatsReporter logs the stored event count every interval until ctx is
// done. A non-positive interval disables reporting.
func (s *Server) RunStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportStats(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) reportStats(ctx context.Context) {
	count, err := s.db.CountEvents(ctx)
	if err != nil {
		s.logger.Warn("stats query failed", logging.Error(err))
		return
	}
	metrics.CollectorStoredEvents.Set(float64(count))
	s.logger.Info("stats", "total_events", count)
}
