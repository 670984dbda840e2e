package marketdb

import (
	"context"
	"database/sql"
	"fmt"

	"bazaar/internal/orders/saga"
)

// SagaStore persists saga runs and their steps in Postgres.
type SagaStore struct {
	db *sql.DB
}

// NewSagaStore constructs a SagaStore backed by Postgres.
func NewSagaStore(db *sql.DB) *SagaStore {
	return &SagaStore{db: db}
}

// NewSagaStoreWithSchema initializes the schema then returns the store.
func NewSagaStoreWithSchema(ctx context.Context, db *sql.DB) (*SagaStore, error) {
	store := NewSagaStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates saga tables if they do not exist.
func (s *SagaStore) InitSchema(ctx context.Context) error {
	return execAll(ctx, s.db, []string{
		`CREATE TABLE IF NOT EXISTS sagas (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS saga_steps (
			id BIGSERIAL PRIMARY KEY,
			saga_id TEXT NOT NULL,
			step TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			FOREIGN KEY (saga_id) REFERENCES sagas(id) ON DELETE CASCADE
		)`,
	})
}

// Start records a new saga run in the started state.
func (s *SagaStore) Start(ctx context.Context, sagaID string, kind saga.Kind, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sagas (id, kind, owner_id, status)
		VALUES ($1, $2, $3, $4)`,
		sagaID, string(kind), ownerID, string(saga.StatusStarted),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("saga %s: %w", sagaID, saga.ErrSagaExists)
	}
	return err
}

// UpdateStatus updates the saga's status and timestamp.
func (s *SagaStore) UpdateStatus(ctx context.Context, sagaID string, status saga.Status) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sagas
		SET status = $2, updated_at = NOW()
		WHERE id = $1`,
		sagaID, string(status),
	)
	return err
}

// AddStep appends a saga step row.
func (s *SagaStore) AddStep(ctx context.Context, sagaID, step, status, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saga_steps (saga_id, step, status, detail)
		VALUES ($1, $2, $3, $4)`,
		sagaID, step, status, detail,
	)
	return err
}
