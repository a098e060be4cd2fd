package otp

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a LedgerStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Expected schema (managed outside the service):
//
//	CREATE TABLE <schema>.otp_challenges (
//	    id          TEXT PRIMARY KEY,
//	    destination TEXT NOT NULL,
//	    code        TEXT NOT NULL,
//	    issued_at   TIMESTAMPTZ NOT NULL,
//	    expires_at  TIMESTAMPTZ NOT NULL,
//	    verified    BOOLEAN NOT NULL DEFAULT FALSE,
//	    verified_at TIMESTAMPTZ,
//	    issuer      TEXT NOT NULL
//	);
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "whatsotp").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("otp: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("otp: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed LedgerStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "whatsotp",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("otp: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Append persists a challenge row.
func (s *PostgresStore) Append(ctx context.Context, ch Challenge) error {
	if ch.ID == "" || ch.Destination == "" || ch.Code == "" {
		return errors.New("invalid input")
	}

	table := pgIdent(s.schema, "otp_challenges")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+table+` (id, destination, code, issued_at, expires_at, verified, verified_at, issuer)
		 VALUES ($1, $2, $3, $4, $5, FALSE, NULL, $6)`,
		ch.ID, ch.Destination, ch.Code, ch.IssuedAt, ch.ExpiresAt, ch.Issuer,
	)
	if err != nil {
		return fmt.Errorf("append challenge: %w", err)
	}
	return nil
}

// MarkVerified flips the most recently issued eligible challenge to verified.
//
// Concurrency: the eligibility conditions are repeated in the outer WHERE
// clause. Under READ COMMITTED a concurrent updater that waited on the row
// lock re-evaluates that clause against the committed row, finds
// verified=true and updates nothing, so exactly one caller wins.
func (s *PostgresStore) MarkVerified(ctx context.Context, destination, code string, now time.Time) (Challenge, error) {
	table := pgIdent(s.schema, "otp_challenges")

	row := s.pool.QueryRow(ctx,
		`UPDATE `+table+`
		 SET verified = TRUE, verified_at = $4
		 WHERE verified = FALSE AND destination = $1 AND code = $2 AND expires_at >= $3
		   AND id = (
			SELECT id FROM `+table+`
			WHERE verified = FALSE AND destination = $1 AND code = $2 AND expires_at >= $3
			ORDER BY issued_at DESC
			LIMIT 1
		   )
		 RETURNING id, destination, code, issued_at, expires_at, verified, verified_at, issuer`,
		destination, code, now, now,
	)

	var ch Challenge
	err := row.Scan(&ch.ID, &ch.Destination, &ch.Code, &ch.IssuedAt, &ch.ExpiresAt, &ch.Verified, &ch.VerifiedAt, &ch.Issuer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Challenge{}, ErrInvalidOrExpired
		}
		return Challenge{}, fmt.Errorf("mark verified: %w", err)
	}
	return ch, nil
}

// ListByIssuer returns the issuer's challenges, most recent first.
func (s *PostgresStore) ListByIssuer(ctx context.Context, issuer string, limit int) ([]Challenge, error) {
	if limit <= 0 {
		limit = 50
	}
	table := pgIdent(s.schema, "otp_challenges")

	rows, err := s.pool.Query(ctx,
		`SELECT id, destination, code, issued_at, expires_at, verified, verified_at, issuer
		 FROM `+table+`
		 WHERE issuer = $1
		 ORDER BY issued_at DESC
		 LIMIT $2`,
		issuer, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	var out []Challenge
	for rows.Next() {
		var ch Challenge
		if err := rows.Scan(&ch.ID, &ch.Destination, &ch.Code, &ch.IssuedAt, &ch.ExpiresAt, &ch.Verified, &ch.VerifiedAt, &ch.Issuer); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Evict drops rows issued before olderThan.
func (s *PostgresStore) Evict(ctx context.Context, olderThan time.Time) (int64, error) {
	table := pgIdent(s.schema, "otp_challenges")
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE issued_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("evict: %w", err)
	}
	return tag.RowsAffected(), nil
}

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool { return pgIdentRe.MatchString(s) }

func pgIdent(schema, table string) string {
	return `"` + schema + `"."` + table + `"`
}
