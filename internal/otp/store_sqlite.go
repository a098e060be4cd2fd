package otp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the single-node persistent ledger. Challenges survive
// restarts, which matters because an OTP stays valid for minutes while the
// service may reconnect or redeploy.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS otp_challenges (
	id          TEXT PRIMARY KEY,
	destination TEXT NOT NULL,
	code        TEXT NOT NULL,
	issued_at   INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL,
	verified    INTEGER NOT NULL DEFAULT 0,
	verified_at INTEGER,
	issuer      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_otp_dest_code ON otp_challenges(destination, code, verified);
CREATE INDEX IF NOT EXISTS idx_otp_issuer ON otp_challenges(issuer, issued_at);
`

// OpenSQLiteStore opens (and migrates) the ledger database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Append persists a challenge row.
func (s *SQLiteStore) Append(ctx context.Context, ch Challenge) error {
	if ch.ID == "" || ch.Destination == "" || ch.Code == "" {
		return errors.New("invalid input")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO otp_challenges (id, destination, code, issued_at, expires_at, verified, verified_at, issuer)
		 VALUES (?, ?, ?, ?, ?, 0, NULL, ?)`,
		ch.ID, ch.Destination, ch.Code, ch.IssuedAt.UnixNano(), ch.ExpiresAt.UnixNano(), ch.Issuer,
	)
	if err != nil {
		return fmt.Errorf("append challenge: %w", err)
	}
	return nil
}

// MarkVerified flips the most recently issued eligible challenge to verified.
// The eligibility conditions sit in the UPDATE's WHERE clause, so the
// match-and-mark is one atomic statement: a racing call finds verified=1 and
// gets no row back.
func (s *SQLiteStore) MarkVerified(ctx context.Context, destination, code string, now time.Time) (Challenge, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE otp_challenges
		 SET verified = 1, verified_at = ?
		 WHERE verified = 0 AND destination = ? AND code = ? AND expires_at >= ?
		   AND id = (
			SELECT id FROM otp_challenges
			WHERE verified = 0 AND destination = ? AND code = ? AND expires_at >= ?
			ORDER BY issued_at DESC LIMIT 1
		   )
		 RETURNING id, destination, code, issued_at, expires_at, verified, verified_at, issuer`,
		now.UnixNano(), destination, code, now.UnixNano(),
		destination, code, now.UnixNano(),
	)

	ch, err := scanChallenge(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Challenge{}, ErrInvalidOrExpired
		}
		return Challenge{}, fmt.Errorf("mark verified: %w", err)
	}
	return ch, nil
}

// ListByIssuer returns the issuer's challenges, most recent first.
func (s *SQLiteStore) ListByIssuer(ctx context.Context, issuer string, limit int) ([]Challenge, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, destination, code, issued_at, expires_at, verified, verified_at, issuer
		 FROM otp_challenges
		 WHERE issuer = ?
		 ORDER BY issued_at DESC
		 LIMIT ?`,
		issuer, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Challenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// Evict drops rows issued before olderThan.
func (s *SQLiteStore) Evict(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM otp_challenges WHERE issued_at < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("evict: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (Challenge, error) {
	var (
		ch         Challenge
		issuedAt   int64
		expiresAt  int64
		verified   int64
		verifiedAt sql.NullInt64
	)
	if err := row.Scan(&ch.ID, &ch.Destination, &ch.Code, &issuedAt, &expiresAt, &verified, &verifiedAt, &ch.Issuer); err != nil {
		return Challenge{}, err
	}

	ch.IssuedAt = time.Unix(0, issuedAt).UTC()
	ch.ExpiresAt = time.Unix(0, expiresAt).UTC()
	ch.Verified = verified != 0
	if verifiedAt.Valid {
		ts := time.Unix(0, verifiedAt.Int64).UTC()
		ch.VerifiedAt = &ts
	}
	return ch, nil
}
