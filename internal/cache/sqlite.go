package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/auctionintel/leadfinder/internal/lead"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the default
// backend for single-host deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS research_cache (
	cache_key   TEXT PRIMARY KEY,
	result      TEXT NOT NULL,
	status      TEXT NOT NULL,
	event_title TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	expires_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_research_cache_status ON research_cache(status);
CREATE INDEX IF NOT EXISTS idx_research_cache_expires_at ON research_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, identifier string) (*lead.Record, error) {
	key := Normalize(identifier)

	var resultJSON string
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT result, expires_at FROM research_cache WHERE cache_key = ?`,
		key,
	).Scan(&resultJSON, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached result")
	}

	if !time.Now().UTC().Before(expiresAt) {
		// Lazy expiry: a stale entry is deleted on read and treated as absent.
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM research_cache WHERE cache_key = ?`, key,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: delete expired entry")
		}
		return nil, nil
	}

	var rec lead.Record
	if err := json.Unmarshal([]byte(resultJSON), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached record")
	}
	return &rec, nil
}

func (s *SQLiteStore) Put(ctx context.Context, identifier string, rec lead.Record) error {
	key := Normalize(identifier)
	now := time.Now().UTC()
	expiresAt := ComputeExpiry(now, rec)

	resultJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO research_cache (cache_key, result, status, event_title, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET
		   result = excluded.result, status = excluded.status,
		   event_title = excluded.event_title,
		   created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, string(resultJSON), string(rec.Status), rec.EventTitle, now, expiresAt,
	)
	return eris.Wrap(err, "sqlite: put cached result")
}

func (s *SQLiteStore) PurgeUncertain(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM research_cache WHERE status = ?`,
		string(lead.StatusUncertain),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge uncertain")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM research_cache WHERE expires_at <= ?`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}
