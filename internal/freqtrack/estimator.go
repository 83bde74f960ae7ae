package freqtrack

// Estimator maintains a window-decayed estimate of how often a boolean signal
// fires relative to total updates. Both counters decay by the same factor, so
// the ratio is a recency-weighted average of the signal over roughly one
// decay window. Cost is O(1) per event; no event log is kept.
type Estimator struct {
	signals float64
	updates float64
	window  uint32
	lastAt  uint32
}

func NewEstimator(window uint32, now uint32) *Estimator {
	return &Estimator{window: window, lastAt: now}
}

// Note records one update, decaying older weight first. Timestamps wrap at
// 2^32; the elapsed computation relies on unsigned subtraction.
func (e *Estimator) Note(signaled bool, now uint32) {
	e.decay(now)
	e.updates++
	if signaled {
		e.signals++
	}
}

// FractionPPM returns the decayed signal fraction in parts per million.
// ok is false when no weight remains in the window.
func (e *Estimator) FractionPPM() (uint64, bool) {
	if e.updates <= 0 {
		return 0, false
	}
	return uint64(e.signals/e.updates*1_000_000 + 0.5), true
}

// Reset drops all accumulated weight and restarts the window at now.
func (e *Estimator) Reset(now uint32) {
	e.signals = 0
	e.updates = 0
	e.lastAt = now
}

// SetWindow changes the decay window for subsequent events.
func (e *Estimator) SetWindow(window uint32) {
	if window > 0 {
		e.window = window
	}
}

func (e *Estimator) decay(now uint32) {
	elapsed := now - e.lastAt
	if elapsed == 0 {
		return
	}
	if elapsed >= e.window {
		e.signals = 0
		e.updates = 0
	} else {
		k := 1 - float64(elapsed)/float64(e.window)
		e.signals *= k
		e.updates *= k
	}
	e.lastAt = now
}
