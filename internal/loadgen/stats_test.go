package loadgen

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMergeIsOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	workers := make([]Stats, 16)
	for i := range workers {
		workers[i] = Stats{
			SuccessfulBorrows: rng.Intn(100),
			FailedBorrows:     rng.Intn(50),
			NoLicense:         rng.Intn(20),
			SuccessfulReturns: rng.Intn(100),
			FailedReturns:     rng.Intn(10),
			Elapsed:           time.Duration(rng.Intn(1000)) * time.Millisecond,
		}
	}

	fold := func(order []int) Stats {
		var agg Stats
		for _, i := range order {
			agg = agg.Merge(workers[i])
		}
		return agg
	}

	base := make([]int, len(workers))
	for i := range base {
		base[i] = i
	}
	want := fold(base)

	for trial := 0; trial < 10; trial++ {
		order := append([]int(nil), base...)
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		assert.Equal(t, want, fold(order), "merge result depends on order %v", order)
	}
}

func TestRates(t *testing.T) {
	s := Stats{SuccessfulBorrows: 3, FailedBorrows: 1, NoLicense: 1}
	assert.InDelta(t, 75.0, s.BorrowSuccessRate(), 1e-9)
	assert.Equal(t, 0, s.HardBorrowFailures())

	// No attempts, no rate.
	assert.Equal(t, 0.0, Stats{}.ReturnSuccessRate())
}
