package oracle

import (
	"errors"
	"math"
	"math/big"
)

var (
	// ErrEmptyRing indicates a query against a ring with no observations.
	ErrEmptyRing = errors.New("observation ring is empty")

	// ErrInsufficientHistory indicates the requested time predates the
	// oldest stored observation.
	ErrInsufficientHistory = errors.New("insufficient observation history")
)

// pageSize is the number of observations per lazily allocated page.
const pageSize = 512

// maxCardinality is the ring capacity; once reached the ring wraps and the
// oldest slot is overwritten.
const maxCardinality = math.MaxUint16

var bigOne = big.NewInt(1)

// Observation is one time-series sample. Timestamps are a wrapping uint32
// seconds clock; all timestamp arithmetic is modulo 2^32.
type Observation struct {
	BlockTimestamp          uint32
	Tick                    int32
	TickCumulative          int64
	SecondsPerLiquidityX128 *big.Int
	Initialized             bool
}

// advance extends an observation to a later timestamp, accruing cumulatives
// for the elapsed seconds at the given tick and liquidity.
func (o Observation) advance(now uint32, tick int32, liquidity *big.Int) Observation {
	elapsed := now - o.BlockTimestamp

	spl := new(big.Int).Lsh(big.NewInt(int64(elapsed)), 128)
	if liquidity != nil && liquidity.Sign() > 0 {
		spl.Div(spl, liquidity)
	} else {
		spl.Div(spl, bigOne)
	}
	spl.Add(spl, o.SecondsPerLiquidityX128)

	return Observation{
		BlockTimestamp:          now,
		Tick:                    tick,
		TickCumulative:          o.TickCumulative + int64(tick)*int64(elapsed),
		SecondsPerLiquidityX128: spl,
		Initialized:             true,
	}
}

// ring is a paged, append-only sequence of observations. Pages are allocated
// as writes first reach them; logical ordering is contiguous regardless of
// physical paging. Cardinality only grows until it saturates the uint16
// index space, after which writes wrap onto the oldest slot.
type ring struct {
	pages       [][]Observation
	index       uint16
	cardinality uint16
}

func (r *ring) at(i uint16) *Observation {
	return &r.pages[int(i)/pageSize][int(i)%pageSize]
}

// ensurePage allocates the page holding slot i if it does not exist yet.
func (r *ring) ensurePage(i uint16) {
	page := int(i) / pageSize
	for len(r.pages) <= page {
		r.pages = append(r.pages, make([]Observation, pageSize))
	}
}

// seed writes the bootstrap observation into slot zero.
func (r *ring) seed(tick int32, now uint32) {
	r.ensurePage(0)
	*r.at(0) = Observation{
		BlockTimestamp:          now,
		Tick:                    tick,
		TickCumulative:          0,
		SecondsPerLiquidityX128: new(big.Int),
		Initialized:             true,
	}
	r.index = 0
	r.cardinality = 1
}

// append writes the next observation, growing cardinality by one until the
// ring is at capacity, then wrapping onto the oldest slot.
func (r *ring) append(obs Observation) {
	var next uint16
	if r.cardinality < maxCardinality {
		next = r.cardinality
		r.cardinality++
	} else {
		next = uint16((int(r.index) + 1) % int(r.cardinality))
	}
	r.ensurePage(next)
	*r.at(next) = obs
	r.index = next
}

// latest returns the most recently written observation.
func (r *ring) latest() *Observation {
	return r.at(r.index)
}

// oldest returns the oldest stored observation.
func (r *ring) oldest() *Observation {
	next := uint16((int(r.index) + 1) % int(r.cardinality))
	if obs := r.at(next); obs.Initialized {
		return obs
	}
	return r.at(0)
}

// lte reports whether a <= b on the wrapping clock, unwrapped against the
// reference time now. Stored timestamps numerically greater than now are
// from before the wraparound and therefore older.
func lte(now, a, b uint32) bool {
	if a <= now && b <= now {
		return a <= b
	}
	aAdj := uint64(a)
	if a <= now {
		aAdj += 1 << 32
	}
	bAdj := uint64(b)
	if b <= now {
		bAdj += 1 << 32
	}
	return aAdj <= bAdj
}

// binarySearch locates the two stored observations bracketing target.
// It runs in O(log cardinality) and handles the physical wraparound of the
// write position: the oldest slot may sit at a higher or lower physical
// index than the newest.
func (r *ring) binarySearch(now, target uint32) (beforeOrAt, atOrAfter Observation) {
	card := int(r.cardinality)
	l := (int(r.index) + 1) % card
	h := l + card - 1

	for {
		i := (l + h) / 2

		beforeOrAt = *r.at(uint16(i % card))
		if !beforeOrAt.Initialized {
			l = i + 1
			continue
		}

		atOrAfter = *r.at(uint16((i + 1) % card))

		targetAtOrAfter := lte(now, beforeOrAt.BlockTimestamp, target)
		if targetAtOrAfter && lte(now, target, atOrAfter.BlockTimestamp) {
			return beforeOrAt, atOrAfter
		}

		if !targetAtOrAfter {
			h = i - 1
		} else {
			l = i + 1
		}
	}
}

// valuesAt returns the cumulative values at target, interpolating linearly
// between the bracketing observations when target falls between samples.
// All three timestamps are compared in the same unwrapped time base so a
// clock wraparound between brackets cannot show up as a huge gap.
func (r *ring) valuesAt(now, target uint32, currentTick int32, liquidity *big.Int) (int64, *big.Int, error) {
	latest := r.latest()

	if lte(now, latest.BlockTimestamp, target) {
		if latest.BlockTimestamp == target {
			return latest.TickCumulative, new(big.Int).Set(latest.SecondsPerLiquidityX128), nil
		}
		extended := latest.advance(target, currentTick, liquidity)
		return extended.TickCumulative, extended.SecondsPerLiquidityX128, nil
	}

	oldest := r.oldest()
	if !lte(now, oldest.BlockTimestamp, target) {
		return 0, nil, ErrInsufficientHistory
	}

	beforeOrAt, atOrAfter := r.binarySearch(now, target)

	if beforeOrAt.BlockTimestamp == target {
		return beforeOrAt.TickCumulative, new(big.Int).Set(beforeOrAt.SecondsPerLiquidityX128), nil
	}
	if atOrAfter.BlockTimestamp == target {
		return atOrAfter.TickCumulative, new(big.Int).Set(atOrAfter.SecondsPerLiquidityX128), nil
	}

	span := atOrAfter.BlockTimestamp - beforeOrAt.BlockTimestamp
	offset := target - beforeOrAt.BlockTimestamp

	tickCum := beforeOrAt.TickCumulative +
		(atOrAfter.TickCumulative-beforeOrAt.TickCumulative)/int64(span)*int64(offset)

	splDelta := new(big.Int).Sub(atOrAfter.SecondsPerLiquidityX128, beforeOrAt.SecondsPerLiquidityX128)
	splDelta.Mul(splDelta, big.NewInt(int64(offset)))
	splDelta.Div(splDelta, big.NewInt(int64(span)))
	spl := new(big.Int).Add(beforeOrAt.SecondsPerLiquidityX128, splDelta)

	return tickCum, spl, nil
}
