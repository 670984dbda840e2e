package marketdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type schemaInitializer interface {
	InitSchema(ctx context.Context) error
}

// InitSchema creates every marketplace table that does not exist yet.
func InitSchema(ctx context.Context, db *sql.DB) error {
	stores := []schemaInitializer{
		NewProductStore(db),
		NewOrderStore(db),
		NewPaymentStore(db),
		NewRefundStore(db),
		NewReviewStore(db),
		NewCredentialStore(db),
		NewSagaStore(db),
	}
	for _, store := range stores {
		if err := store.InitSchema(ctx); err != nil {
			return err
		}
	}
	return nil
}

func execAll(ctx context.Context, db *sql.DB, statements []string) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// conditionalExec runs an UPDATE guarded by an expected status and reports
// whether a row matched.
func conditionalExec(ctx context.Context, db *sql.DB, query string, args ...any) (bool, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	return values, nil
}
