package loadgen

import "time"

// Stats holds one worker's counters. Workers accumulate privately during a
// run; aggregation happens afterwards via Merge, which is a plain summation
// so merge order never matters.
type Stats struct {
	SuccessfulBorrows int
	FailedBorrows     int // every failed borrow, including NoLicense outcomes
	NoLicense         int // subset of FailedBorrows that were 409 "pool exhausted"
	SuccessfulReturns int
	FailedReturns     int
	Elapsed           time.Duration // busy wall time of the worker
}

func (s Stats) Merge(o Stats) Stats {
	return Stats{
		SuccessfulBorrows: s.SuccessfulBorrows + o.SuccessfulBorrows,
		FailedBorrows:     s.FailedBorrows + o.FailedBorrows,
		NoLicense:         s.NoLicense + o.NoLicense,
		SuccessfulReturns: s.SuccessfulReturns + o.SuccessfulReturns,
		FailedReturns:     s.FailedReturns + o.FailedReturns,
		Elapsed:           s.Elapsed + o.Elapsed,
	}
}

// HardBorrowFailures is the count of borrow failures that were not plain
// pool exhaustion: transport errors, unexpected statuses, bad bodies.
func (s Stats) HardBorrowFailures() int { return s.FailedBorrows - s.NoLicense }

// BorrowSuccessRate is in [0,100]; 0 when no borrows were attempted.
func (s Stats) BorrowSuccessRate() float64 {
	return rate(s.SuccessfulBorrows, s.FailedBorrows)
}

// ReturnSuccessRate is in [0,100]; 0 when no returns were attempted.
func (s Stats) ReturnSuccessRate() float64 {
	return rate(s.SuccessfulReturns, s.FailedReturns)
}

func rate(ok, fail int) float64 {
	total := ok + fail
	if total == 0 {
		return 0
	}
	return float64(ok) / float64(total) * 100
}
