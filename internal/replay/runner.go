package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"feeScope/internal/engine"
	"feeScope/internal/model"
	"feeScope/internal/storage"
	"feeScope/internal/storage/postgres"
)

// RunConfig holds runtime settings for a replay.
type RunConfig struct {
	BatchSize     int
	RecomputeFrom uint64
	MaxRetries    int
	RetryBackoff  time.Duration
	StateStore    StateStore
}

// Broadcaster receives snapshots as they are produced, e.g. a websocket feed.
type Broadcaster interface {
	Broadcast(snapshot model.FeeSnapshot)
}

// Runner replays swap events from a JSONL file through the fee engine and
// writes the resulting fee snapshots to storage. Pools are enabled on first
// sight at the event's tick.
type Runner struct {
	cfg    RunConfig
	mgr    *engine.Manager
	sink   storage.Storage
	store  *postgres.Store
	feed   Broadcaster
	logger *zap.Logger
}

// NewRunner builds a Runner with its dependencies. store and feed are
// optional.
func NewRunner(cfg RunConfig, mgr *engine.Manager, sink storage.Storage, store *postgres.Store, feed Broadcaster, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		mgr:    mgr,
		sink:   sink,
		store:  store,
		feed:   feed,
		logger: logger,
	}
}

// Run executes the replay over a swap events JSONL file.
func (r *Runner) Run(ctx context.Context, inputPath string) error {
	if r.mgr == nil {
		return fmt.Errorf("manager is nil")
	}
	if r.sink == nil {
		return fmt.Errorf("sink is nil")
	}
	if r.cfg.BatchSize <= 0 {
		r.cfg.BatchSize = 1000
	}

	startTs, err := r.loadStartTimestamp(ctx)
	if err != nil {
		return err
	}

	file, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	batch := make([]model.FeeSnapshot, 0, r.cfg.BatchSize)
	pools := make([]model.PoolRecord, 0, 64)
	maxTs := startTs
	var total, processed, skipped, failed, clamps int

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		total++

		var event model.SwapEvent
		if err := json.Unmarshal(line, &event); err != nil {
			failed++
			r.logger.Warn("decode swap event", zap.Error(err))
			continue
		}

		if uint64(event.Timestamp) <= startTs {
			skipped++
			continue
		}

		snapshot, poolRecord, err := r.applyEvent(event)
		if err != nil {
			failed++
			r.logger.Warn("apply swap event", zap.Error(err), zap.String("pool", event.Pool))
			continue
		}

		if poolRecord != nil {
			pools = append(pools, *poolRecord)
		}
		batch = append(batch, snapshot)
		processed++
		if snapshot.Clamped {
			clamps++
		}

		if r.feed != nil {
			r.feed.Broadcast(snapshot)
		}

		if uint64(event.Timestamp) > maxTs {
			maxTs = uint64(event.Timestamp)
		}

		if len(batch) >= r.cfg.BatchSize {
			if err := r.flush(ctx, batch, pools); err != nil {
				return err
			}
			batch = batch[:0]
			pools = pools[:0]

			if r.cfg.StateStore != nil {
				if err := r.cfg.StateStore.Save(ctx, maxTs); err != nil {
					return err
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}

	if len(batch) > 0 || len(pools) > 0 {
		if err := r.flush(ctx, batch, pools); err != nil {
			return err
		}
	}
	if r.cfg.StateStore != nil {
		if err := r.cfg.StateStore.Save(ctx, maxTs); err != nil {
			return err
		}
	}

	r.logger.Info("replay complete",
		zap.Int("total", total),
		zap.Int("processed", processed),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
		zap.Int("clamps", clamps),
	)

	return nil
}

// applyEvent runs one settlement step: enable on first sight, record the
// tick, notify the fee engine with the clamp result, then read the fee
// state fresh.
func (r *Runner) applyEvent(event model.SwapEvent) (model.FeeSnapshot, *model.PoolRecord, error) {
	pool, err := parsePoolID(event.Pool)
	if err != nil {
		return model.FeeSnapshot{}, nil, err
	}

	liquidity, err := parseLiquidity(event.Liquidity)
	if err != nil {
		return model.FeeSnapshot{}, nil, err
	}

	var poolRecord *model.PoolRecord
	if !r.mgr.Enabled(pool) {
		if err := r.mgr.EnablePool(pool, event.Tick, event.Timestamp); err != nil {
			return model.FeeSnapshot{}, nil, fmt.Errorf("enable pool: %w", err)
		}
		poolRecord = &model.PoolRecord{
			Pool:        event.Pool,
			InitialTick: event.Tick,
			EnabledAt:   event.Timestamp,
		}
	}

	clamped, err := r.mgr.Record(pool, event.Tick, liquidity, event.Timestamp)
	if err != nil {
		return model.FeeSnapshot{}, nil, fmt.Errorf("record: %w", err)
	}
	if err := r.mgr.Notify(pool, clamped, event.Timestamp); err != nil {
		return model.FeeSnapshot{}, nil, fmt.Errorf("notify: %w", err)
	}

	baseFee, surgeFee, err := r.mgr.FeeState(pool, event.Timestamp)
	if err != nil {
		return model.FeeSnapshot{}, nil, fmt.Errorf("fee state: %w", err)
	}
	cap, err := r.mgr.Cap(pool)
	if err != nil {
		return model.FeeSnapshot{}, nil, fmt.Errorf("cap: %w", err)
	}

	return model.FeeSnapshot{
		Pool:      event.Pool,
		Timestamp: event.Timestamp,
		Tick:      event.Tick,
		Clamped:   clamped,
		Cap:       cap,
		BaseFee:   baseFee,
		SurgeFee:  surgeFee,
		TotalFee:  baseFee + surgeFee,
	}, poolRecord, nil
}

func (r *Runner) flush(ctx context.Context, batch []model.FeeSnapshot, pools []model.PoolRecord) error {
	if err := r.sink.PutSnapshotBatch(batch); err != nil {
		return fmt.Errorf("store snapshots: %w", err)
	}

	if r.store == nil {
		return nil
	}

	if len(pools) > 0 {
		if err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
			err := r.store.UpsertPools(ctx, pools)
			if err != nil {
				r.logger.Warn("upsert pools failed", zap.Error(err))
			}
			return err
		}); err != nil {
			return err
		}
	}
	if len(batch) > 0 {
		if err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
			err := r.store.UpsertSnapshots(ctx, batch)
			if err != nil {
				r.logger.Warn("upsert snapshots failed", zap.Error(err))
			}
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) loadStartTimestamp(ctx context.Context) (uint64, error) {
	if r.cfg.RecomputeFrom > 0 {
		return r.cfg.RecomputeFrom - 1, nil
	}
	if r.cfg.StateStore == nil {
		return 0, nil
	}
	last, ok, err := r.cfg.StateStore.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last, nil
}

func parsePoolID(input string) (common.Hash, error) {
	if len(input) != 2+2*common.HashLength || input[:2] != "0x" {
		return common.Hash{}, fmt.Errorf("invalid pool id: %s", input)
	}
	for _, r := range input[2:] {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return common.Hash{}, fmt.Errorf("invalid pool id: %s", input)
		}
	}
	return common.HexToHash(input), nil
}

func parseLiquidity(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("invalid liquidity: %s", value)
	}
	return parsed, nil
}
