package sim

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"feeScope/internal/engine"
	"feeScope/internal/model"
	"feeScope/internal/replay"
	"feeScope/internal/storage"
)

// Config controls the synthetic market simulation.
type Config struct {
	Pools       int
	Steps       int
	StepSeconds uint32
	StartTime   uint32
	Walk        float64
	ShockEvery  int
	ShockSize   int32
	Seed        int64
	FlushEvery  int
}

// Runner drives a synthetic tick random walk through the fee engine. A calm
// market is a pure small-step walk; shocks inject large jumps every
// ShockEvery steps so clamp events and surge fees can be exercised.
type Runner struct {
	cfg    Config
	mgr    *engine.Manager
	sink   storage.Storage
	feed   replay.Broadcaster
	logger *zap.Logger
}

// NewRunner builds a simulation Runner. sink and feed are optional.
func NewRunner(cfg Config, mgr *engine.Manager, sink storage.Storage, feed replay.Broadcaster, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		mgr:    mgr,
		sink:   sink,
		feed:   feed,
		logger: logger,
	}
}

// PoolID derives a deterministic synthetic pool id.
func PoolID(n int) common.Hash {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("feescope/pool/%d", n)))
}

type poolSim struct {
	id      common.Hash
	tick    float64
	inSurge bool
}

// Run executes the simulation.
func (r *Runner) Run(ctx context.Context) error {
	if r.mgr == nil {
		return fmt.Errorf("manager is nil")
	}
	if r.cfg.Pools <= 0 {
		return fmt.Errorf("at least one pool is required")
	}
	if r.cfg.Steps <= 0 {
		return fmt.Errorf("step count must be positive")
	}
	if r.cfg.StepSeconds == 0 {
		return fmt.Errorf("step seconds must be positive")
	}
	if r.cfg.FlushEvery <= 0 {
		r.cfg.FlushEvery = 100
	}

	rng := rand.New(rand.NewSource(r.cfg.Seed))
	liquidity := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	pools := make([]*poolSim, r.cfg.Pools)
	for i := range pools {
		pools[i] = &poolSim{id: PoolID(i)}
		if err := r.mgr.EnablePool(pools[i].id, 0, r.cfg.StartTime); err != nil {
			return fmt.Errorf("enable pool %d: %w", i, err)
		}
	}

	batch := make([]model.FeeSnapshot, 0, r.cfg.FlushEvery*r.cfg.Pools)
	now := r.cfg.StartTime
	var clamps int

	for step := 0; step < r.cfg.Steps; step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now += r.cfg.StepSeconds

		for _, p := range pools {
			p.tick += rng.NormFloat64() * r.cfg.Walk
			if r.cfg.ShockEvery > 0 && (step+1)%r.cfg.ShockEvery == 0 {
				if rng.Intn(2) == 0 {
					p.tick += float64(r.cfg.ShockSize)
				} else {
					p.tick -= float64(r.cfg.ShockSize)
				}
			}

			incomingTick := int32(math.Round(p.tick))
			snapshot, err := r.settle(p, incomingTick, liquidity, now)
			if err != nil {
				return err
			}
			if snapshot.Clamped {
				clamps++
			}

			batch = append(batch, snapshot)
			if r.feed != nil {
				r.feed.Broadcast(snapshot)
			}
		}

		if (step+1)%r.cfg.FlushEvery == 0 {
			if err := r.flush(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}

	if err := r.flush(batch); err != nil {
		return err
	}

	r.logger.Info("simulation complete",
		zap.Int("pools", r.cfg.Pools),
		zap.Int("steps", r.cfg.Steps),
		zap.Int("clamps", clamps),
		zap.Uint32("end_ts", now),
	)
	return nil
}

// settle runs one settlement step for one pool and logs surge start/end
// edges.
func (r *Runner) settle(p *poolSim, incomingTick int32, liquidity *big.Int, now uint32) (model.FeeSnapshot, error) {
	clamped, err := r.mgr.Record(p.id, incomingTick, liquidity, now)
	if err != nil {
		return model.FeeSnapshot{}, fmt.Errorf("record: %w", err)
	}
	if err := r.mgr.Notify(p.id, clamped, now); err != nil {
		return model.FeeSnapshot{}, fmt.Errorf("notify: %w", err)
	}

	baseFee, surgeFee, err := r.mgr.FeeState(p.id, now)
	if err != nil {
		return model.FeeSnapshot{}, fmt.Errorf("fee state: %w", err)
	}
	cap, err := r.mgr.Cap(p.id)
	if err != nil {
		return model.FeeSnapshot{}, fmt.Errorf("cap: %w", err)
	}

	inSurge := surgeFee > 0
	if inSurge && !p.inSurge {
		r.logger.Info("surge start",
			zap.String("pool", p.id.Hex()),
			zap.Uint32("base_fee", baseFee),
			zap.Uint32("surge_fee", surgeFee),
			zap.Uint32("ts", now),
		)
	} else if !inSurge && p.inSurge {
		r.logger.Info("surge end", zap.String("pool", p.id.Hex()), zap.Uint32("ts", now))
	}
	p.inSurge = inSurge

	r.logger.Debug("step",
		zap.String("pool", p.id.Hex()),
		zap.Int32("tick", incomingTick),
		zap.Bool("clamped", clamped),
		zap.Uint32("base_fee", baseFee),
		zap.Uint32("surge_fee", surgeFee),
		zap.Uint32("total_fee", baseFee+surgeFee),
	)

	return model.FeeSnapshot{
		Pool:      p.id.Hex(),
		Timestamp: now,
		Tick:      incomingTick,
		Clamped:   clamped,
		Cap:       cap,
		BaseFee:   baseFee,
		SurgeFee:  surgeFee,
		TotalFee:  baseFee + surgeFee,
	}, nil
}

func (r *Runner) flush(batch []model.FeeSnapshot) error {
	if r.sink == nil || len(batch) == 0 {
		return nil
	}
	if err := r.sink.PutSnapshotBatch(batch); err != nil {
		return fmt.Errorf("store snapshots: %w", err)
	}
	return nil
}
