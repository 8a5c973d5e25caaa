package checkpoint

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the Postgres checkpoint backend.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Postgres keeps checkpoints in a table keyed by channel id.
type Postgres struct {
	pool   pool
	table  string
	logger *zap.Logger
}

// NewPostgres connects to Postgres and ensures the checkpoint table exists.
func NewPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("checkpoint.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewPostgresWithPool(p, cfg.Table, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily for testing).
func NewPostgresWithPool(p pool, table string, logger *zap.Logger) (*Postgres, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "channel_checkpoints"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{pool: p, table: table, logger: logger.Named("checkpoint")}, nil
}

// EnsureSchema creates the checkpoint table when missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	channel_id text PRIMARY KEY,
	last_posted_at timestamptz NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// Load reads every row. Query errors degrade to an empty map.
func (s *Postgres) Load(ctx context.Context) map[string]*time.Time {
	points := make(map[string]*time.Time)
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT channel_id, last_posted_at FROM %s", s.table))
	if err != nil {
		s.logger.Warn("checkpoint query failed, starting empty", zap.Error(err))
		return points
	}
	defer rows.Close()
	for rows.Next() {
		var (
			channelID string
			ts        *time.Time
		)
		if err := rows.Scan(&channelID, &ts); err != nil {
			s.logger.Warn("skipping unreadable checkpoint row", zap.Error(err))
			continue
		}
		points[channelID] = ts
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("checkpoint rows incomplete", zap.Error(err))
	}
	return points
}

// Save upserts the full map in one transaction. Stored timestamps never move
// backwards.
func (s *Postgres) Save(ctx context.Context, points map[string]*time.Time) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %[1]s (channel_id, last_posted_at) VALUES ($1, $2)
ON CONFLICT (channel_id) DO UPDATE
SET last_posted_at = GREATEST(%[1]s.last_posted_at, EXCLUDED.last_posted_at)`, s.table)

	channels := make([]string, 0, len(points))
	for channelID := range points {
		channels = append(channels, channelID)
	}
	sort.Strings(channels)
	for _, channelID := range channels {
		if _, err = tx.Exec(ctx, query, channelID, points[channelID]); err != nil {
			return fmt.Errorf("upsert checkpoint %s: %w", channelID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit checkpoints: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
