package oracle

import (
	"errors"
	"math/big"

	"feeScope/internal/freqtrack"
	"feeScope/internal/policy"
)

// ErrNotEnabled indicates the oracle has no bootstrap observation yet.
var ErrNotEnabled = errors.New("oracle not enabled")

// Oracle is the bounded-movement time-series oracle for one pool. It owns
// the observation ring and the movement-ceiling controller: every recorded
// tick moves the stored tick by at most the cap in force, and the cap is
// retuned from the observed clamp frequency at update-interval boundaries.
type Oracle struct {
	ring ring
	pol  policy.Policy

	cap         uint32
	lastCapEval uint32
	freq        *freqtrack.Estimator
}

// New seeds an oracle with one bootstrap observation at the enabling tick.
func New(pol policy.Policy, initialTick int32, now uint32) (*Oracle, error) {
	if err := pol.Validate(); err != nil {
		return nil, err
	}

	o := &Oracle{
		pol:         pol,
		cap:         pol.DefaultCap,
		lastCapEval: now,
		freq:        freqtrack.NewEstimator(pol.DecayWindow, now),
	}
	o.ring.seed(initialTick, now)
	return o, nil
}

// Cap returns the movement ceiling currently in force.
func (o *Oracle) Cap() uint32 {
	return o.cap
}

// Latest returns a copy of the most recent observation.
func (o *Oracle) Latest() (Observation, error) {
	if o.ring.cardinality == 0 {
		return Observation{}, ErrNotEnabled
	}
	return *o.ring.latest(), nil
}

// Record writes the incoming tick at time now, clamping its movement from
// the previous tick to the cap. It reports whether a clamp occurred. Two
// records at the same timestamp coalesce into one slot: the second write
// replaces the stored tick without accruing any cumulative value.
func (o *Oracle) Record(incomingTick int32, liquidity *big.Int, now uint32) (bool, error) {
	if o.ring.cardinality == 0 {
		return false, ErrNotEnabled
	}

	last := o.ring.latest()
	tick, clamped := clampMovement(last.Tick, incomingTick, o.cap)

	if now == last.BlockTimestamp {
		last.Tick = tick
	} else {
		o.ring.append(last.advance(now, tick, liquidity))
	}

	o.retuneCap(clamped, now)
	return clamped, nil
}

// Observe returns the cumulative tick-seconds and liquidity-seconds at each
// requested point in the past. secondsAgo of zero is answered from the
// latest observation without a search.
func (o *Oracle) Observe(secondsAgo []uint32, currentLiquidity *big.Int, now uint32) ([]int64, []*big.Int, error) {
	if o.ring.cardinality == 0 {
		return nil, nil, ErrEmptyRing
	}

	tickCums := make([]int64, len(secondsAgo))
	spls := make([]*big.Int, len(secondsAgo))
	latest := o.ring.latest()

	for i, ago := range secondsAgo {
		if ago == 0 {
			tickCums[i] = latest.TickCumulative
			spls[i] = new(big.Int).Set(latest.SecondsPerLiquidityX128)
			continue
		}

		target := now - ago

		// With only the bootstrap observation there is no history to
		// search or interpolate; anything but its exact timestamp fails.
		if o.ring.cardinality == 1 && target != latest.BlockTimestamp {
			return nil, nil, ErrInsufficientHistory
		}

		tickCum, spl, err := o.ring.valuesAt(now, target, latest.Tick, currentLiquidity)
		if err != nil {
			return nil, nil, err
		}
		tickCums[i] = tickCum
		spls[i] = spl
	}

	return tickCums, spls, nil
}

// Cardinality returns the number of populated ring slots.
func (o *Oracle) Cardinality() uint16 {
	return o.ring.cardinality
}

// SetPolicy swaps in freshly fetched policy bounds and re-clamps the cap
// immediately, without waiting for the next interval boundary.
func (o *Oracle) SetPolicy(pol policy.Policy) error {
	if err := pol.Validate(); err != nil {
		return err
	}
	o.pol = pol
	o.freq.SetWindow(pol.DecayWindow)
	o.cap = clampU32(o.cap, pol.MinCap, pol.MaxCap)
	return nil
}

// retuneCap feeds the clamp signal into the frequency estimator and, once
// per update interval, moves the cap one step toward budget. A clamp rate
// above budget loosens the ceiling (legitimate moves are being cut off); a
// rate below budget tightens it.
func (o *Oracle) retuneCap(clamped bool, now uint32) {
	o.freq.Note(clamped, now)

	if now-o.lastCapEval < o.pol.UpdateInterval {
		return
	}

	if frac, ok := o.freq.FractionPPM(); ok {
		step := stepSize(o.cap, o.pol.StepPPM)
		switch {
		case frac > uint64(o.pol.BudgetPPM):
			o.cap = clampU32(saturatingAdd(o.cap, step), o.pol.MinCap, o.pol.MaxCap)
		case frac < uint64(o.pol.BudgetPPM):
			o.cap = clampU32(saturatingSub(o.cap, step), o.pol.MinCap, o.pol.MaxCap)
		}
	}

	o.lastCapEval = now
}

// clampMovement bounds the movement from lastTick to incomingTick at cap.
func clampMovement(lastTick, incomingTick int32, cap uint32) (int32, bool) {
	movement := int64(incomingTick) - int64(lastTick)
	limit := int64(cap)
	switch {
	case movement > limit:
		return lastTick + int32(limit), true
	case movement < -limit:
		return lastTick - int32(limit), true
	default:
		return incomingTick, false
	}
}

// stepSize is one retune step, never zero so the cap can always reach its
// bounds.
func stepSize(value uint32, stepPPM uint32) uint32 {
	step := uint32(uint64(value) * uint64(stepPPM) / policy.PPMDenominator)
	if step == 0 {
		step = 1
	}
	return step
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func saturatingAdd(a, b uint32) uint32 {
	if sum := a + b; sum >= a {
		return sum
	}
	return ^uint32(0)
}

func saturatingSub(a, b uint32) uint32 {
	if a < b {
		return 0
	}
	return a - b
}
