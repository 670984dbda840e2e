package saga

import (
	"context"

	"go.uber.org/zap"
)

// Journal writes the progress of one saga run to a Store. Write failures are
// logged and never interrupt the saga.
type Journal struct {
	store  Store
	logger *zap.Logger
	id     string
}

// Begin starts a journal for a new saga run.
func Begin(ctx context.Context, store Store, logger *zap.Logger, sagaID string, kind Kind, ownerID string) *Journal {
	if store == nil {
		store = NoopStore{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &Journal{store: store, logger: logger, id: sagaID}
	if err := store.Start(ctx, sagaID, kind, ownerID); err != nil {
		j.logger.Warn("saga journal start failed", zap.String("saga_id", sagaID), zap.String("kind", string(kind)), zap.Error(err))
	}
	return j
}

// ID returns the saga run id.
func (j *Journal) ID() string {
	return j.id
}

// Step appends a step line.
func (j *Journal) Step(ctx context.Context, step, status, detail string) {
	if err := j.store.AddStep(ctx, j.id, step, status, detail); err != nil {
		j.logger.Warn("saga journal step failed", zap.String("saga_id", j.id), zap.String("step", step), zap.Error(err))
	}
}

// Finish records the final status of the run.
func (j *Journal) Finish(ctx context.Context, status Status) {
	if err := j.store.UpdateStatus(ctx, j.id, status); err != nil {
		j.logger.Warn("saga journal finish failed", zap.String("saga_id", j.id), zap.String("status", string(status)), zap.Error(err))
	}
}
