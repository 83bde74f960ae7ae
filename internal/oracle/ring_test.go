package oracle

import (
	"errors"
	"math/big"
	"testing"

	"feeScope/internal/policy"
)

func testPolicy() policy.Policy {
	return policy.Policy{
		MinCap:             10,
		MaxCap:             1000,
		DefaultCap:         100,
		StepPPM:            100_000,
		BudgetPPM:          200_000,
		UpdateInterval:     60,
		DecayWindow:        600,
		MinBaseFee:         500,
		MaxBaseFee:         10_000,
		SurgeMultiplierPPM: 3_000_000,
		SurgeDecayPeriod:   600,
	}
}

// seedFixture builds a ring with observations at times [0, 10, 20] and ticks
// [0, 10, 30].
func seedFixture(t *testing.T) *Oracle {
	t.Helper()
	o, err := New(testPolicy(), 0, 0)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	liq := big.NewInt(1)
	if _, err := o.Record(10, liq, 10); err != nil {
		t.Fatalf("record t=10: %v", err)
	}
	if _, err := o.Record(30, liq, 20); err != nil {
		t.Fatalf("record t=20: %v", err)
	}
	return o
}

func TestObserveLatestFastPath(t *testing.T) {
	o := seedFixture(t)

	tickCums, _, err := o.Observe([]uint32{0}, big.NewInt(1), 20)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	// t=10 accrues 10*10, t=20 accrues 30*10.
	if tickCums[0] != 400 {
		t.Fatalf("expected cumulative 400, got %d", tickCums[0])
	}
}

func TestObserveExactObservation(t *testing.T) {
	o := seedFixture(t)

	tickCums, spls, err := o.Observe([]uint32{10}, big.NewInt(1), 20)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if tickCums[0] != 100 {
		t.Fatalf("expected cumulative 100 at t=10, got %d", tickCums[0])
	}

	wantSpl := new(big.Int).Lsh(big.NewInt(10), 128)
	if spls[0].Cmp(wantSpl) != 0 {
		t.Fatalf("seconds-per-liquidity mismatch at t=10: %s != %s", spls[0], wantSpl)
	}
}

func TestObserveInterpolates(t *testing.T) {
	o := seedFixture(t)

	// target t=5, between the t=0 and t=10 observations.
	tickCums, spls, err := o.Observe([]uint32{15}, big.NewInt(1), 20)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if tickCums[0] != 50 {
		t.Fatalf("expected interpolated cumulative 50, got %d", tickCums[0])
	}
	if tickCums[0] <= 0 || tickCums[0] >= 100 {
		t.Fatalf("interpolated value %d not strictly between brackets", tickCums[0])
	}

	wantSpl := new(big.Int).Lsh(big.NewInt(5), 128)
	if spls[0].Cmp(wantSpl) != 0 {
		t.Fatalf("seconds-per-liquidity mismatch at t=5: %s != %s", spls[0], wantSpl)
	}

	// target t=15, between t=10 and t=20.
	tickCums, _, err = o.Observe([]uint32{5}, big.NewInt(1), 20)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if tickCums[0] != 250 {
		t.Fatalf("expected interpolated cumulative 250, got %d", tickCums[0])
	}
}

func TestObserveMultiplePoints(t *testing.T) {
	o := seedFixture(t)

	tickCums, _, err := o.Observe([]uint32{0, 10, 20}, big.NewInt(1), 20)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	want := []int64{400, 100, 0}
	for i := range want {
		if tickCums[i] != want[i] {
			t.Fatalf("point %d: expected %d, got %d", i, want[i], tickCums[i])
		}
	}
}

func TestObserveEmptyRing(t *testing.T) {
	var o Oracle
	if _, _, err := o.Observe([]uint32{0}, big.NewInt(1), 100); !errors.Is(err, ErrEmptyRing) {
		t.Fatalf("expected ErrEmptyRing, got %v", err)
	}
}

func TestObserveBootstrapOnlyGuard(t *testing.T) {
	o, err := New(testPolicy(), 42, 100)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}

	if _, _, err := o.Observe([]uint32{50}, big.NewInt(1), 200); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}

	// The bootstrap timestamp itself is answerable.
	tickCums, _, err := o.Observe([]uint32{100}, big.NewInt(1), 200)
	if err != nil {
		t.Fatalf("observe bootstrap timestamp: %v", err)
	}
	if tickCums[0] != 0 {
		t.Fatalf("expected zero cumulative at bootstrap, got %d", tickCums[0])
	}
}

func TestObserveBeforeOldest(t *testing.T) {
	o := seedFixture(t)

	if _, _, err := o.Observe([]uint32{25}, big.NewInt(1), 20); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestObserveExtrapolatesPastNewest(t *testing.T) {
	o := seedFixture(t)

	// now=30, target t=25: five seconds past the newest observation at the
	// newest tick of 30.
	tickCums, _, err := o.Observe([]uint32{5}, big.NewInt(1), 30)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if tickCums[0] != 400+30*5 {
		t.Fatalf("expected extrapolated cumulative 550, got %d", tickCums[0])
	}
}

func TestWraparoundMatchesShiftedSequence(t *testing.T) {
	liq := big.NewInt(1)

	// Timestamps straddle the uint32 maximum: bootstrap at max-9, next
	// observation ten seconds later at wrapped time 1.
	wrapped, err := New(testPolicy(), 0, 0xFFFFFFF7)
	if err != nil {
		t.Fatalf("new wrapped oracle: %v", err)
	}
	if _, err := wrapped.Record(20, liq, 1); err != nil {
		t.Fatalf("record wrapped: %v", err)
	}

	// Same sequence shifted into the middle of the clock.
	plain, err := New(testPolicy(), 0, 100)
	if err != nil {
		t.Fatalf("new plain oracle: %v", err)
	}
	if _, err := plain.Record(20, liq, 110); err != nil {
		t.Fatalf("record plain: %v", err)
	}

	// Five seconds before the newest observation in both time bases.
	wrappedCums, _, err := wrapped.Observe([]uint32{5}, liq, 1)
	if err != nil {
		t.Fatalf("observe wrapped: %v", err)
	}
	plainCums, _, err := plain.Observe([]uint32{5}, liq, 110)
	if err != nil {
		t.Fatalf("observe plain: %v", err)
	}

	if wrappedCums[0] != plainCums[0] {
		t.Fatalf("wraparound changed interpolation: %d != %d", wrappedCums[0], plainCums[0])
	}
	if plainCums[0] != 100 {
		t.Fatalf("expected interpolated cumulative 100, got %d", plainCums[0])
	}
}

func TestPageBoundaryGrowth(t *testing.T) {
	o, err := New(testPolicy(), 0, 0)
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}

	liq := big.NewInt(1)
	steps := pageSize + 2
	for i := 1; i <= steps; i++ {
		if _, err := o.Record(int32(i%50), liq, uint32(i)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	if got := o.Cardinality(); got != uint16(steps+1) {
		t.Fatalf("expected cardinality %d, got %d", steps+1, got)
	}

	// Exact lookups on both sides of the page boundary still resolve.
	now := uint32(steps)
	for _, target := range []uint32{1, uint32(pageSize - 1), uint32(pageSize), uint32(pageSize + 1)} {
		if _, _, err := o.Observe([]uint32{now - target}, liq, now); err != nil {
			t.Fatalf("observe target %d: %v", target, err)
		}
	}
}
