package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/auctionintel/leadfinder/internal/db"
	"github.com/auctionintel/leadfinder/internal/lead"
)

// PostgresStore implements Store using pgxpool, for deployments where the
// cache is shared across hosts.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection. Every
// store method runs one of these, so all of them are worth preparing.
var preparedStatements = map[string]string{
	"cache_get": `SELECT result, expires_at FROM research_cache WHERE cache_key = $1`,
	"cache_put": `INSERT INTO research_cache (cache_key, result, status, event_title, created_at, expires_at)
	 VALUES ($1, $2, $3, $4, $5, $6)
	 ON CONFLICT (cache_key) DO UPDATE SET
	   result = $2, status = $3, event_title = $4, created_at = $5, expires_at = $6`,
	"cache_delete":          `DELETE FROM research_cache WHERE cache_key = $1`,
	"cache_purge_uncertain": `DELETE FROM research_cache WHERE status = $1`,
	"cache_delete_expired":  `DELETE FROM research_cache WHERE expires_at <= now()`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS research_cache (
	cache_key   TEXT PRIMARY KEY,
	result      JSONB NOT NULL,
	status      TEXT NOT NULL,
	event_title TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_research_cache_status ON research_cache(status);
CREATE INDEX IF NOT EXISTS idx_research_cache_expires_at ON research_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, identifier string) (*lead.Record, error) {
	key := Normalize(identifier)

	var resultJSON []byte
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT result, expires_at FROM research_cache WHERE cache_key = $1`,
		key,
	).Scan(&resultJSON, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached result")
	}

	if !time.Now().UTC().Before(expiresAt) {
		if _, err := s.pool.Exec(ctx,
			`DELETE FROM research_cache WHERE cache_key = $1`, key,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: delete expired entry")
		}
		return nil, nil
	}

	var rec lead.Record
	if err := json.Unmarshal(resultJSON, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached record")
	}
	return &rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, identifier string, rec lead.Record) error {
	key := Normalize(identifier)
	now := time.Now().UTC()
	expiresAt := ComputeExpiry(now, rec)

	resultJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO research_cache (cache_key, result, status, event_title, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (cache_key) DO UPDATE SET
		   result = $2, status = $3, event_title = $4, created_at = $5, expires_at = $6`,
		key, resultJSON, string(rec.Status), rec.EventTitle, now, expiresAt,
	)
	return eris.Wrap(err, "postgres: put cached result")
}

func (s *PostgresStore) PurgeUncertain(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM research_cache WHERE status = $1`,
		string(lead.StatusUncertain),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge uncertain")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM research_cache WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired")
	}
	return int(tag.RowsAffected()), nil
}
