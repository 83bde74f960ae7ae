package storage

import "feeScope/internal/model"

// Storage defines a sink for fee snapshots.
type Storage interface {
	PutSnapshotBatch(snapshots []model.FeeSnapshot) error
}
