package engine

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"feeScope/internal/fee"
	"feeScope/internal/oracle"
	"feeScope/internal/policy"
)

var (
	// ErrNotEnabled indicates an operation on a pool that was never enabled.
	ErrNotEnabled = errors.New("pool not enabled")

	// ErrAlreadyEnabled indicates a second enablement of the same pool.
	ErrAlreadyEnabled = errors.New("pool already enabled")

	// ErrUnauthorized indicates a governance-only operation from the wrong
	// caller.
	ErrUnauthorized = errors.New("caller is not governance")
)

// Manager is the caller-facing facade over the per-pool oracle and fee
// engine. State is one entry per pool id; operations on the same pool are
// serialized by the entry's mutex while different pools proceed in parallel.
// The clock is supplied by the caller on every mutating call, so the manager
// never reads wall time itself.
type Manager struct {
	mu         sync.RWMutex
	pools      map[common.Hash]*poolEntry
	provider   policy.Provider
	governance common.Address
	logger     *zap.Logger
}

type poolEntry struct {
	mu     sync.Mutex
	oracle *oracle.Oracle
	fees   *fee.Engine
}

// NewManager builds a Manager with its dependencies. Governance is the only
// address allowed to refresh policy caches.
func NewManager(provider policy.Provider, governance common.Address, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		pools:      make(map[common.Hash]*poolEntry),
		provider:   provider,
		governance: governance,
		logger:     logger,
	}
}

// EnablePool creates the oracle and fee state for a pool, seeded with one
// bootstrap observation at the enabling tick and zero surge. One-time only.
func (m *Manager) EnablePool(pool common.Hash, initialTick int32, now uint32) error {
	pol, err := m.provider.PolicyFor(pool)
	if err != nil {
		return fmt.Errorf("fetch policy: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[pool]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyEnabled, pool.Hex())
	}

	orc, err := oracle.New(pol, initialTick, now)
	if err != nil {
		return err
	}
	fees, err := fee.NewEngine(pol, now)
	if err != nil {
		return err
	}

	m.pools[pool] = &poolEntry{oracle: orc, fees: fees}

	m.logger.Info("pool enabled",
		zap.String("pool", pool.Hex()),
		zap.Int32("initial_tick", initialTick),
		zap.Uint32("default_cap", pol.DefaultCap),
		zap.Uint32("min_base_fee", pol.MinBaseFee),
	)
	return nil
}

// Record pushes the incoming tick into the pool's oracle and reports whether
// the movement was clamped. At most one call per settlement step per pool.
func (m *Manager) Record(pool common.Hash, incomingTick int32, liquidity *big.Int, now uint32) (bool, error) {
	entry, err := m.entry(pool)
	if err != nil {
		return false, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	capBefore := entry.oracle.Cap()
	clamped, err := entry.oracle.Record(incomingTick, liquidity, now)
	if err != nil {
		return false, err
	}

	if capAfter := entry.oracle.Cap(); capAfter != capBefore {
		m.logger.Info("cap retuned",
			zap.String("pool", pool.Hex()),
			zap.Uint32("cap_before", capBefore),
			zap.Uint32("cap_after", capAfter),
			zap.Uint32("ts", now),
		)
	}
	return clamped, nil
}

// Notify forwards the clamp signal from Record into the pool's fee engine.
func (m *Manager) Notify(pool common.Hash, clamped bool, now uint32) error {
	entry, err := m.entry(pool)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	wasInSurge := entry.fees.InSurge(now)
	entry.fees.Notify(clamped, now)

	if clamped && !wasInSurge {
		base, surge := entry.fees.FeeState(now)
		m.logger.Info("surge triggered",
			zap.String("pool", pool.Hex()),
			zap.Uint32("base_fee", base),
			zap.Uint32("surge_fee", surge),
			zap.Uint32("ts", now),
		)
	}
	return nil
}

// Observe returns cumulative tick-seconds and liquidity-seconds at the
// requested points in the past.
func (m *Manager) Observe(pool common.Hash, secondsAgo []uint32, liquidity *big.Int, now uint32) ([]int64, []*big.Int, error) {
	entry, err := m.entry(pool)
	if err != nil {
		return nil, nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return entry.oracle.Observe(secondsAgo, liquidity, now)
}

// FeeState returns the base and surge fee in force for the pool at now.
func (m *Manager) FeeState(pool common.Hash, now uint32) (baseFee, surgeFee uint32, err error) {
	entry, err := m.entry(pool)
	if err != nil {
		return 0, 0, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	baseFee, surgeFee = entry.fees.FeeState(now)
	return baseFee, surgeFee, nil
}

// Cap returns the movement ceiling currently in force for the pool.
func (m *Manager) Cap(pool common.Hash) (uint32, error) {
	entry, err := m.entry(pool)
	if err != nil {
		return 0, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return entry.oracle.Cap(), nil
}

// RefreshPolicyCache re-reads the pool's policy and re-clamps the cap and
// base fee into the new bounds immediately. Governance only.
func (m *Manager) RefreshPolicyCache(pool common.Hash, caller common.Address) error {
	if caller != m.governance {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller.Hex())
	}

	entry, err := m.entry(pool)
	if err != nil {
		return err
	}

	pol, err := m.provider.PolicyFor(pool)
	if err != nil {
		return fmt.Errorf("fetch policy: %w", err)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := entry.oracle.SetPolicy(pol); err != nil {
		return err
	}
	if err := entry.fees.SetPolicy(pol); err != nil {
		return err
	}

	m.logger.Info("policy cache refreshed", zap.String("pool", pool.Hex()))
	return nil
}

// Enabled reports whether the pool has been enabled.
func (m *Manager) Enabled(pool common.Hash) bool {
	m.mu.RLock()
	_, ok := m.pools[pool]
	m.mu.RUnlock()
	return ok
}

func (m *Manager) entry(pool common.Hash) (*poolEntry, error) {
	m.mu.RLock()
	entry, ok := m.pools[pool]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotEnabled, pool.Hex())
	}
	return entry, nil
}
