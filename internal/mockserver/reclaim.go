package mockserver

import (
	"context"
	"time"
)

// RunReclaimer periodically expires leases that have been outstanding longer
// than ttl, the way the production server eventually times out abandoned
// borrows. Blocks until ctx is cancelled; run it in its own goroutine.
func (s *Server) RunReclaimer(ctx context.Context, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	s.reclaimOnce(ttl)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.reclaimOnce(ttl)
		}
	}
}

func (s *Server) reclaimOnce(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := 0
	for id, rec := range s.borrows {
		if rec.borrowedAt.After(cutoff) {
			continue
		}
		delete(s.borrows, id)
		if ps, ok := s.pools[rec.tool]; ok && ps.borrowed > 0 {
			ps.borrowed--
		}
		s.outstanding--
		reclaimed++
	}
	return reclaimed
}
