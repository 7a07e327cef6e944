// Package postgres implements the hub's persistence ports on PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS connectors (
	id            TEXT PRIMARY KEY,
	slug          TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	auth_type     TEXT NOT NULL,
	provider_key  TEXT NOT NULL DEFAULT '',
	client_id     TEXT NOT NULL DEFAULT '',
	client_secret TEXT NOT NULL DEFAULT '',
	scopes        TEXT[] NOT NULL DEFAULT '{}',
	mcp_server_url TEXT NOT NULL DEFAULT '',
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS user_connections (
	id                      TEXT PRIMARY KEY,
	user_id                 TEXT NOT NULL,
	connector_id            TEXT NOT NULL REFERENCES connectors(id),
	status                  TEXT NOT NULL,
	encrypted_access_token  TEXT NOT NULL DEFAULT '',
	encrypted_refresh_token TEXT NOT NULL DEFAULT '',
	api_key_hash            TEXT NOT NULL DEFAULT '',
	expires_at              TIMESTAMPTZ,
	scopes                  TEXT[] NOT NULL DEFAULT '{}',
	last_used_at            TIMESTAMPTZ,
	created_at              TIMESTAMPTZ NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, connector_id)
);

CREATE TABLE IF NOT EXISTS oauth_transactions (
	id            TEXT PRIMARY KEY,
	state         TEXT NOT NULL UNIQUE,
	connector_id  TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	verifier_hash TEXT NOT NULL,
	redirect_uri  TEXT NOT NULL,
	status        TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS connector_tools (
	id           TEXT PRIMARY KEY,
	connector_id TEXT NOT NULL REFERENCES connectors(id),
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	parameters   JSONB NOT NULL DEFAULT '{}',
	source       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (connector_id, name)
);

CREATE TABLE IF NOT EXISTS pipeline_jobs (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	connector_id TEXT NOT NULL,
	tool_name    TEXT NOT NULL,
	status       TEXT NOT NULL,
	args         JSONB NOT NULL DEFAULT '{}',
	output       JSONB,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_events (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL,
	level      TEXT NOT NULL,
	message    TEXT NOT NULL,
	data       JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS pipeline_events_job_id_idx ON pipeline_events (job_id, created_at);

CREATE TABLE IF NOT EXISTS action_logs (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	connector_id TEXT NOT NULL,
	tool_name    TEXT NOT NULL,
	request_args JSONB NOT NULL DEFAULT '{}',
	response     JSONB,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	latency_ms   BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS webhooks (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	url              TEXT NOT NULL,
	secret           TEXT NOT NULL DEFAULT '',
	payload_template TEXT NOT NULL DEFAULT '',
	events           TEXT[] NOT NULL DEFAULT '{}',
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id            TEXT PRIMARY KEY,
	webhook_id    TEXT NOT NULL REFERENCES webhooks(id),
	event_type    TEXT NOT NULL,
	payload       TEXT NOT NULL,
	status        TEXT NOT NULL,
	response_code INTEGER NOT NULL DEFAULT 0,
	response_body TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	delivered_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL
);
`

// Migrate bootstraps the schema. Idempotent; run by the migrate command and
// safe to re-run on deploy.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Info().Msg("Database schema up to date")

	return nil
}
