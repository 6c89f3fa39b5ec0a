package loadgen

import (
	"context"
	"time"
)

// runMonitor polls the server's full status at StatusInterval while the run
// is in progress, logging pool occupancy and feeding the server-side gauges.
// Runs until its ctx is cancelled.
func (h *Harness) runMonitor(ctx context.Context) {
	t := time.NewTicker(h.cfg.StatusInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		start := time.Now()
		statuses, err := h.client.GetAllStatuses(ctx)
		if h.cfg.Metrics != nil {
			h.cfg.Metrics.OpLatency.WithLabelValues("status").Observe(time.Since(start).Seconds())
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.log.Warn().Err(err).Msg("status poll failed")
			continue
		}

		for _, st := range statuses {
			if h.cfg.Metrics != nil {
				h.cfg.Metrics.BorrowedGauge.WithLabelValues(st.Tool).Set(float64(st.Borrowed))
				h.cfg.Metrics.AvailableGauge.WithLabelValues(st.Tool).Set(float64(st.Available))
			}
			h.log.Debug().
				Str("tool", st.Tool).
				Int("borrowed", st.Borrowed).
				Int("available", st.Available).
				Int("overage", st.Overage).
				Msg("pool status")
		}
	}
}
