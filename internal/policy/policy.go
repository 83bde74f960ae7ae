package policy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidPolicy indicates a provider returned out-of-bound configuration.
var ErrInvalidPolicy = errors.New("invalid policy")

// PPMDenominator is the parts-per-million scale used for fees and fractions.
const PPMDenominator = 1_000_000

// MaxSurgeMultiplierPPM caps the surge trigger at 300% of the base fee.
const MaxSurgeMultiplierPPM = 3 * PPMDenominator

// Policy holds the per-pool tunables consumed by the oracle and fee engine.
// Fees and fractions are expressed in parts per million, durations in seconds.
type Policy struct {
	MinCap     uint32 `json:"min_cap"`
	MaxCap     uint32 `json:"max_cap"`
	DefaultCap uint32 `json:"default_cap"`

	StepPPM   uint32 `json:"step_ppm"`
	BudgetPPM uint32 `json:"budget_ppm"`

	UpdateInterval uint32 `json:"update_interval"`
	DecayWindow    uint32 `json:"decay_window"`

	MinBaseFee         uint32 `json:"min_base_fee"`
	MaxBaseFee         uint32 `json:"max_base_fee"`
	SurgeMultiplierPPM uint32 `json:"surge_multiplier_ppm"`
	SurgeDecayPeriod   uint32 `json:"surge_decay_period"`
}

// Validate checks the ordering and range invariants of the policy.
func (p Policy) Validate() error {
	if p.MinCap > p.MaxCap {
		return fmt.Errorf("%w: min cap %d > max cap %d", ErrInvalidPolicy, p.MinCap, p.MaxCap)
	}
	if p.DefaultCap < p.MinCap || p.DefaultCap > p.MaxCap {
		return fmt.Errorf("%w: default cap %d outside [%d, %d]", ErrInvalidPolicy, p.DefaultCap, p.MinCap, p.MaxCap)
	}
	if p.StepPPM > PPMDenominator {
		return fmt.Errorf("%w: step fraction %d ppm exceeds %d", ErrInvalidPolicy, p.StepPPM, PPMDenominator)
	}
	if p.BudgetPPM == 0 {
		return fmt.Errorf("%w: budget fraction must be positive", ErrInvalidPolicy)
	}
	if p.UpdateInterval == 0 {
		return fmt.Errorf("%w: update interval must be positive", ErrInvalidPolicy)
	}
	if p.DecayWindow == 0 {
		return fmt.Errorf("%w: decay window must be positive", ErrInvalidPolicy)
	}
	if p.MinBaseFee > p.MaxBaseFee {
		return fmt.Errorf("%w: min base fee %d > max base fee %d", ErrInvalidPolicy, p.MinBaseFee, p.MaxBaseFee)
	}
	if p.SurgeMultiplierPPM > MaxSurgeMultiplierPPM {
		return fmt.Errorf("%w: surge multiplier %d ppm exceeds %d", ErrInvalidPolicy, p.SurgeMultiplierPPM, MaxSurgeMultiplierPPM)
	}
	if p.SurgeDecayPeriod == 0 {
		return fmt.Errorf("%w: surge decay period must be positive", ErrInvalidPolicy)
	}
	return nil
}

// Provider supplies the policy in force for a pool.
type Provider interface {
	PolicyFor(pool common.Hash) (Policy, error)
}

// Static serves a default policy with optional per-pool overrides.
type Static struct {
	mu        sync.RWMutex
	defaults  Policy
	overrides map[common.Hash]Policy
}

func NewStatic(defaults Policy) *Static {
	return &Static{
		defaults:  defaults,
		overrides: make(map[common.Hash]Policy),
	}
}

// PolicyFor returns the override for the pool if present, the defaults otherwise.
func (s *Static) PolicyFor(pool common.Hash) (Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if override, ok := s.overrides[pool]; ok {
		return override, nil
	}
	return s.defaults, nil
}

// SetOverride installs a per-pool policy. It does not validate; validation
// happens when the policy is consumed.
func (s *Static) SetOverride(pool common.Hash, p Policy) {
	s.mu.Lock()
	s.overrides[pool] = p
	s.mu.Unlock()
}

// SetDefaults replaces the default policy served to pools without overrides.
func (s *Static) SetDefaults(p Policy) {
	s.mu.Lock()
	s.defaults = p
	s.mu.Unlock()
}
