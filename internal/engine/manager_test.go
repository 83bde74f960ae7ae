package engine

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"feeScope/internal/policy"
)

var governance = common.HexToAddress("0x00000000000000000000000000000000000000AA")

func testPolicy() policy.Policy {
	return policy.Policy{
		MinCap:             10,
		MaxCap:             1000,
		DefaultCap:         100,
		StepPPM:            100_000,
		BudgetPPM:          200_000,
		UpdateInterval:     3600,
		DecayWindow:        86400,
		MinBaseFee:         500,
		MaxBaseFee:         2000,
		SurgeMultiplierPPM: 3_000_000,
		SurgeDecayPeriod:   600,
	}
}

func newTestManager() (*Manager, *policy.Static) {
	provider := policy.NewStatic(testPolicy())
	return NewManager(provider, governance, nil), provider
}

func TestEnablePoolOnce(t *testing.T) {
	mgr, _ := newTestManager()
	pool := common.HexToHash("0x01")

	if err := mgr.EnablePool(pool, 0, 0); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !mgr.Enabled(pool) {
		t.Fatalf("pool should report enabled")
	}

	if err := mgr.EnablePool(pool, 0, 10); !errors.Is(err, ErrAlreadyEnabled) {
		t.Fatalf("expected ErrAlreadyEnabled, got %v", err)
	}
}

func TestOperationsRequireEnabledPool(t *testing.T) {
	mgr, _ := newTestManager()
	pool := common.HexToHash("0x02")
	liq := big.NewInt(1)

	if _, err := mgr.Record(pool, 1, liq, 1); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("record: expected ErrNotEnabled, got %v", err)
	}
	if err := mgr.Notify(pool, true, 1); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("notify: expected ErrNotEnabled, got %v", err)
	}
	if _, _, err := mgr.Observe(pool, []uint32{0}, liq, 1); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("observe: expected ErrNotEnabled, got %v", err)
	}
	if _, _, err := mgr.FeeState(pool, 1); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("fee state: expected ErrNotEnabled, got %v", err)
	}
	if _, err := mgr.Cap(pool); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("cap: expected ErrNotEnabled, got %v", err)
	}
}

func TestEnableRejectsInvalidPolicy(t *testing.T) {
	bad := testPolicy()
	bad.MinCap = 5000
	provider := policy.NewStatic(bad)
	mgr := NewManager(provider, governance, nil)

	pool := common.HexToHash("0x03")
	if err := mgr.EnablePool(pool, 0, 0); !errors.Is(err, policy.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
	if mgr.Enabled(pool) {
		t.Fatalf("pool must not be enabled with an invalid policy")
	}
}

func TestRecordThroughFeeState(t *testing.T) {
	mgr, _ := newTestManager()
	pool := common.HexToHash("0x04")
	liq := big.NewInt(1)
	pol := testPolicy()

	if err := mgr.EnablePool(pool, 0, 0); err != nil {
		t.Fatalf("enable: %v", err)
	}

	clamped, err := mgr.Record(pool, 5000, liq, 10)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !clamped {
		t.Fatalf("a 5000-tick move against a cap of 100 must clamp")
	}
	if err := mgr.Notify(pool, clamped, 10); err != nil {
		t.Fatalf("notify: %v", err)
	}

	base, surge, err := mgr.FeeState(pool, 10)
	if err != nil {
		t.Fatalf("fee state: %v", err)
	}
	if base != pol.MinBaseFee {
		t.Fatalf("expected base fee %d, got %d", pol.MinBaseFee, base)
	}
	wantSurge := base * pol.SurgeMultiplierPPM / policy.PPMDenominator
	if surge != wantSurge {
		t.Fatalf("expected surge %d right after the trigger, got %d", wantSurge, surge)
	}

	tickCums, _, err := mgr.Observe(pool, []uint32{0}, liq, 10)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	// Ten seconds at the clamped tick of 100.
	if tickCums[0] != 1000 {
		t.Fatalf("expected cumulative 1000, got %d", tickCums[0])
	}
}

func TestRefreshPolicyCacheAuthorization(t *testing.T) {
	mgr, provider := newTestManager()
	pool := common.HexToHash("0x05")

	if err := mgr.EnablePool(pool, 0, 0); err != nil {
		t.Fatalf("enable: %v", err)
	}

	stranger := common.HexToAddress("0x00000000000000000000000000000000000000BB")
	if err := mgr.RefreshPolicyCache(pool, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// The authorization check comes before the existence check.
	unknown := common.HexToHash("0x06")
	if err := mgr.RefreshPolicyCache(unknown, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown pool, got %v", err)
	}
	if err := mgr.RefreshPolicyCache(unknown, governance); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("expected ErrNotEnabled for unknown pool, got %v", err)
	}

	_ = provider
}

func TestRefreshPolicyCacheReclamps(t *testing.T) {
	mgr, provider := newTestManager()
	pool := common.HexToHash("0x07")

	if err := mgr.EnablePool(pool, 0, 0); err != nil {
		t.Fatalf("enable: %v", err)
	}

	narrowed := testPolicy()
	narrowed.MinCap = 10
	narrowed.MaxCap = 80
	narrowed.DefaultCap = 80
	narrowed.MinBaseFee = 800
	provider.SetOverride(pool, narrowed)

	if err := mgr.RefreshPolicyCache(pool, governance); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	cap, err := mgr.Cap(pool)
	if err != nil {
		t.Fatalf("cap: %v", err)
	}
	if cap != 80 {
		t.Fatalf("expected cap re-clamped to 80, got %d", cap)
	}

	base, _, err := mgr.FeeState(pool, 0)
	if err != nil {
		t.Fatalf("fee state: %v", err)
	}
	if base != 800 {
		t.Fatalf("expected base fee re-clamped to 800, got %d", base)
	}
}

func TestRefreshRejectsInvalidPolicy(t *testing.T) {
	mgr, provider := newTestManager()
	pool := common.HexToHash("0x08")

	if err := mgr.EnablePool(pool, 0, 0); err != nil {
		t.Fatalf("enable: %v", err)
	}

	bad := testPolicy()
	bad.SurgeMultiplierPPM = policy.MaxSurgeMultiplierPPM + 1
	provider.SetOverride(pool, bad)

	if err := mgr.RefreshPolicyCache(pool, governance); !errors.Is(err, policy.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}

	// The old policy stays in force.
	cap, err := mgr.Cap(pool)
	if err != nil {
		t.Fatalf("cap: %v", err)
	}
	if cap != testPolicy().DefaultCap {
		t.Fatalf("expected cap unchanged at %d, got %d", testPolicy().DefaultCap, cap)
	}
}
