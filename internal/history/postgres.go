package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const Schema = `CREATE TABLE IF NOT EXISTS scan_history (
  id          BIGSERIAL PRIMARY KEY,
  session_id  TEXT        NOT NULL,
  operator    TEXT        NOT NULL,
  kind        TEXT        NOT NULL,
  booking_id  TEXT        NOT NULL DEFAULT '',
  outcome     TEXT        NOT NULL,
  message     TEXT        NOT NULL DEFAULT '',
  at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS scan_history_operator_at ON scan_history (operator, at DESC);`

const recordCols = `session_id, operator, kind, booking_id, outcome, message, at`

// PostgresStore keeps every record.
type PostgresStore struct {
	pool  *pgxpool.Pool
	limit int
}

func NewPostgresStore(pool *pgxpool.Pool, limit int) *PostgresStore {
	if limit <= 0 {
		limit = 50
	}
	return &PostgresStore{pool: pool, limit: limit}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create scan_history: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	const q = `INSERT INTO scan_history (` + recordCols + `) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx, q,
		rec.SessionID, operatorKey(rec.Operator), string(rec.Kind),
		rec.BookingID, string(rec.Outcome), rec.Message, rec.At,
	)
	return err
}

func (s *PostgresStore) Recent(ctx context.Context, operator string, limit int) ([]Record, error) {
	const q = `SELECT ` + recordCols + ` FROM scan_history WHERE operator=$1 ORDER BY at DESC LIMIT $2`
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, q, operatorKey(operator), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.SessionID, &rec.Operator, &rec.Kind,
			&rec.BookingID, &rec.Outcome, &rec.Message, &rec.At,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
