package loadgen

import (
	"fmt"
	"io"

	"github.com/mholetzko/permetix/pkg/licenseclient"
)

// WriteReport prints the human-readable summary of a completed run. Pool
// exhaustion ("no license") outcomes are broken out from hard errors, and
// borrow and return phases are rated separately.
func WriteReport(w io.Writer, cfg Config, res Result) {
	fmt.Fprintln(w, "=== License Load Test Results ===")
	fmt.Fprintf(w, "workers: %d, operations: %d/worker, mode: %s, tool: %s\n",
		cfg.Workers, cfg.Operations, cfg.Mode, cfg.Tool)
	fmt.Fprintf(w, "total time:        %.2fs\n", res.Wall.Seconds())

	s := res.Stats
	completed := s.SuccessfulBorrows + s.SuccessfulReturns
	if res.Wall > 0 {
		fmt.Fprintf(w, "throughput:        %.2f ops/sec\n", float64(completed)/res.Wall.Seconds())
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "borrow phase:")
	fmt.Fprintf(w, "  successful:      %d\n", s.SuccessfulBorrows)
	fmt.Fprintf(w, "  no license:      %d\n", s.NoLicense)
	fmt.Fprintf(w, "  hard errors:     %d\n", s.HardBorrowFailures())
	fmt.Fprintf(w, "  success rate:    %.2f%%\n", s.BorrowSuccessRate())

	if cfg.Mode == ModeFullCycle {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "return phase:")
		fmt.Fprintf(w, "  successful:      %d\n", s.SuccessfulReturns)
		fmt.Fprintf(w, "  failed:          %d\n", s.FailedReturns)
		fmt.Fprintf(w, "  success rate:    %.2f%%\n", s.ReturnSuccessRate())
	}
}

// WriteStatuses prints one line per tool pool, for the pre-run probe and the
// post-run snapshot.
func WriteStatuses(w io.Writer, statuses []licenseclient.LicenseStatus) {
	for _, st := range statuses {
		fmt.Fprintf(w, "  %s -> %d total, %d borrowed, %d available",
			st.Tool, st.Total, st.Borrowed, st.Available)
		if st.Overage > 0 {
			fmt.Fprintf(w, " (%d overage, cost %.2f)", st.Overage, st.CurrentOverageCost)
		}
		fmt.Fprintln(w)
	}
}
