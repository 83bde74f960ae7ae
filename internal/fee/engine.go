package fee

import (
	"feeScope/internal/freqtrack"
	"feeScope/internal/policy"
)

// Engine is the per-pool dynamic fee state machine. It keeps two independent
// sub-clocks: a base fee retuned one step per update interval from the clamp
// frequency, and a surge fee triggered by clamp events that decays linearly
// to zero over the surge decay period.
type Engine struct {
	pol policy.Policy

	baseFee      uint32
	lastBaseEval uint32
	freq         *freqtrack.Estimator

	surgeBase  uint32
	surgeStart uint32
	inSurge    bool
}

// NewEngine creates a fee engine starting at the minimum base fee with no
// surge active.
func NewEngine(pol policy.Policy, now uint32) (*Engine, error) {
	if err := pol.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		pol:          pol,
		baseFee:      pol.MinBaseFee,
		lastBaseEval: now,
		freq:         freqtrack.NewEstimator(pol.DecayWindow, now),
	}, nil
}

// Notify feeds one clamp signal into the engine. A clamp arms the surge fee
// at baseFee * surgeMultiplier and restarts its decay clock; a re-trigger
// during an active surge resets to the full trigger value rather than
// stacking onto the decaying remainder. Every call also drives the base-fee
// controller.
func (e *Engine) Notify(clamped bool, now uint32) {
	if clamped {
		e.surgeBase = uint32(uint64(e.baseFee) * uint64(e.pol.SurgeMultiplierPPM) / policy.PPMDenominator)
		e.surgeStart = now
		e.inSurge = true
	}

	e.retuneBaseFee(clamped, now)
}

// FeeState returns the base and surge fee in force at now. The surge fee is
// always recomputed from the trigger value and elapsed time, never stored as
// a decaying counter. The total fee to charge is base + surge.
func (e *Engine) FeeState(now uint32) (baseFee, surgeFee uint32) {
	if !e.inSurge {
		return e.baseFee, 0
	}

	elapsed := now - e.surgeStart
	if elapsed >= e.pol.SurgeDecayPeriod {
		e.inSurge = false
		e.surgeBase = 0
		return e.baseFee, 0
	}

	remaining := e.pol.SurgeDecayPeriod - elapsed
	surgeFee = uint32(uint64(e.surgeBase) * uint64(remaining) / uint64(e.pol.SurgeDecayPeriod))
	return e.baseFee, surgeFee
}

// InSurge reports whether a surge event is still decaying at now.
func (e *Engine) InSurge(now uint32) bool {
	_, surge := e.FeeState(now)
	return surge > 0
}

// SetPolicy swaps in freshly fetched bounds and re-clamps the base fee
// immediately. An armed surge is pulled under the new multiplier ceiling as
// well, so a narrower policy takes effect mid-decay instead of after it.
func (e *Engine) SetPolicy(pol policy.Policy) error {
	if err := pol.Validate(); err != nil {
		return err
	}
	e.pol = pol
	e.freq.SetWindow(pol.DecayWindow)
	e.baseFee = clampU32(e.baseFee, pol.MinBaseFee, pol.MaxBaseFee)
	limit := uint32(uint64(e.baseFee) * uint64(pol.SurgeMultiplierPPM) / policy.PPMDenominator)
	if e.surgeBase > limit {
		e.surgeBase = limit
	}
	return nil
}

// retuneBaseFee mirrors the oracle's cap controller: exactly one step per
// interval boundary, up when clamps run over budget, down when under.
func (e *Engine) retuneBaseFee(clamped bool, now uint32) {
	e.freq.Note(clamped, now)

	if now-e.lastBaseEval < e.pol.UpdateInterval {
		return
	}

	if frac, ok := e.freq.FractionPPM(); ok {
		// One retune step, floored at 1 so the base fee can always reach
		// its bounds.
		step := uint32(uint64(e.baseFee) * uint64(e.pol.StepPPM) / policy.PPMDenominator)
		if step == 0 {
			step = 1
		}
		switch {
		case frac > uint64(e.pol.BudgetPPM):
			e.baseFee = clampU32(saturatingAdd(e.baseFee, step), e.pol.MinBaseFee, e.pol.MaxBaseFee)
		case frac < uint64(e.pol.BudgetPPM):
			e.baseFee = clampU32(saturatingSub(e.baseFee, step), e.pol.MinBaseFee, e.pol.MaxBaseFee)
		}
	}

	e.lastBaseEval = now
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
