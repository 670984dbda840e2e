package marketdb

import (
	"context"
	"database/sql"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// CredentialStore keeps bcrypt hashes of payment passwords.
type CredentialStore struct {
	db   *sql.DB
	cost int
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db, cost: bcrypt.DefaultCost}
}

// InitSchema creates the credentials table if it does not exist.
func (s *CredentialStore) InitSchema(ctx context.Context) error {
	return execAll(ctx, s.db, []string{
		`CREATE TABLE IF NOT EXISTS payment_credentials (
			user_id TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	})
}

// SetPassword stores or replaces the user's payment password.
func (s *CredentialStore) SetPassword(ctx context.Context, userID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payment_credentials (user_id, password_hash)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET password_hash = EXCLUDED.password_hash, updated_at = NOW()`,
		userID, string(hash),
	)
	return err
}

// Verify reports whether password matches the stored hash. A user with no
// stored password never verifies.
func (s *CredentialStore) Verify(ctx context.Context, userID, password string) (bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash FROM payment_credentials WHERE user_id = $1`,
		userID,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return err == nil, err
}
