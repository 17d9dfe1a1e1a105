package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id           UUID PRIMARY KEY,
	display_name TEXT NOT NULL,
	role         TEXT NOT NULL DEFAULT 'member'
);

CREATE TABLE IF NOT EXISTS moderation_entities (
	id              UUID PRIMARY KEY,
	kind            TEXT NOT NULL,
	submitter_id    UUID NOT NULL,
	title           TEXT NOT NULL,
	payload         TEXT NOT NULL DEFAULT '',
	target_id       TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	resolution_note TEXT NOT NULL DEFAULT '',
	history         JSONB NOT NULL DEFAULT '[]',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_moderation_entities_kind_status ON moderation_entities (kind, status, created_at);

CREATE TABLE IF NOT EXISTS notifications (
	id               UUID PRIMARY KEY,
	recipient_id     UUID NOT NULL,
	type             TEXT NOT NULL,
	title            TEXT NOT NULL,
	message          TEXT NOT NULL,
	source_entity_id UUID,
	actor_id         UUID,
	actor_name       TEXT NOT NULL DEFAULT '',
	dedupe_key       TEXT NOT NULL DEFAULT '',
	is_read          BOOLEAN NOT NULL DEFAULT FALSE,
	read_at          TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications (recipient_id, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_dedupe ON notifications (recipient_id, dedupe_key) WHERE dedupe_key <> '';

CREATE TABLE IF NOT EXISTS outbox_events (
	id            UUID PRIMARY KEY,
	event_type    TEXT NOT NULL,
	payload       JSONB NOT NULL,
	status        TEXT NOT NULL,
	error_message TEXT,
	retry_count   INT NOT NULL DEFAULT 0,
	retry_at      TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	processed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_outbox_events_status ON outbox_events (status, retry_at, created_at);
`

// Migrate creates the tables when they do not exist yet.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
