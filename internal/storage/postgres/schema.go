package postgres

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGINT PRIMARY KEY,
	username      TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	photo         BYTEA,
	ip            TEXT NOT NULL DEFAULT '',
	connected     BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS channels (
	id       BIGINT PRIMARY KEY,
	uuid     TEXT NOT NULL UNIQUE,
	name     TEXT NOT NULL,
	private  BOOLEAN NOT NULL DEFAULT FALSE,
	owner_id BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS channel_members (
	channel_id BIGINT NOT NULL,
	user_id    BIGINT NOT NULL,
	PRIMARY KEY (channel_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id          BIGINT PRIMARY KEY,
	ts          TIMESTAMPTZ NOT NULL,
	kind        TEXT NOT NULL,
	sender_id   BIGINT NOT NULL,
	receiver_id BIGINT NOT NULL DEFAULT 0,
	channel_id  BIGINT NOT NULL DEFAULT 0,
	body        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_channel_idx ON messages (channel_id);

CREATE TABLE IF NOT EXISTS invitations (
	id           BIGINT NOT NULL,
	channel_id   BIGINT NOT NULL,
	channel_uuid TEXT NOT NULL DEFAULT '',
	inviter_id   BIGINT NOT NULL,
	invitee_id   BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	state        TEXT NOT NULL,
	PRIMARY KEY (channel_id, invitee_id)
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id         BIGINT PRIMARY KEY,
	ts         TIMESTAMPTZ NOT NULL,
	kind       TEXT NOT NULL,
	actor_id   BIGINT NOT NULL DEFAULT 0,
	session_id TEXT NOT NULL DEFAULT '',
	origin     TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS applied_ops (
	op_id      TEXT PRIMARY KEY,
	expires_at TIMESTAMPTZ NOT NULL
);
`
