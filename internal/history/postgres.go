package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/spatialvoice/pkg/provider/llm"
)

var _ Store = (*Postgres)(nil)

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    key         TEXT         PRIMARY KEY,
    messages    JSONB        NOT NULL DEFAULT '[]',
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expires_at  TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_expires_at
    ON conversations (expires_at);
`

// Postgres is a [Store] backed by a PostgreSQL table. Expired rows are
// ignored on load and pruned on save.
type Postgres struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// PostgresOption configures a [Postgres] store.
type PostgresOption func(*Postgres)

// WithPostgresTTL overrides the default [TTL]. Non-positive values are
// ignored.
func WithPostgresTTL(d time.Duration) PostgresOption {
	return func(p *Postgres) {
		if d > 0 {
			p.ttl = d
		}
	}
}

// NewPostgres connects to dsn, verifies the connection and runs [Migrate].
func NewPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history: postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history: postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: postgres: migrate: %w", err)
	}

	p := &Postgres{pool: pool, ttl: TTL}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Migrate creates the conversations table if it does not exist. It is
// idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlConversations); err != nil {
		return fmt.Errorf("history: postgres: create conversations table: %w", err)
	}
	return nil
}

// Load implements [Store].
func (p *Postgres) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT messages FROM conversations WHERE key = $1 AND expires_at > now()`,
		Key(sessionID),
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return []llm.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: postgres: load %q: %w", sessionID, err)
	}
	return decode(data)
}

// Save implements [Store].
func (p *Postgres) Save(ctx context.Context, sessionID string, msgs []llm.Message) error {
	data, err := encode(msgs)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("history: postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM conversations WHERE expires_at <= now()`); err != nil {
		return fmt.Errorf("history: postgres: prune: %w", err)
	}

	const q = `
		INSERT INTO conversations (key, messages, updated_at, expires_at)
		VALUES ($1, $2, now(), now() + make_interval(secs => $3))
		ON CONFLICT (key) DO UPDATE SET
			messages   = EXCLUDED.messages,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at`
	if _, err := tx.Exec(ctx, q, Key(sessionID), data, p.ttl.Seconds()); err != nil {
		return fmt.Errorf("history: postgres: save %q: %w", sessionID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("history: postgres: commit: %w", err)
	}
	return nil
}

// Ping implements [Store].
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close implements [Store].
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
