package sqlite

import "database/sql"

// schema contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
// Counters are seeded so that the first settlement gets ID 1 and the first
// queued settlement gets position 0.
const schema = `
CREATE TABLE IF NOT EXISTS counters (
    name  TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);

INSERT OR IGNORE INTO counters (name, value) VALUES ('settlement_id', 0);
INSERT OR IGNORE INTO counters (name, value) VALUES ('queue_position', -1);

CREATE TABLE IF NOT EXISTS settlements (
    id                 INTEGER PRIMARY KEY,
    initiator          TEXT NOT NULL,
    total_amount       INTEGER NOT NULL,
    total_deposited    INTEGER NOT NULL DEFAULT 0,
    state              TEXT NOT NULL,
    created_at         INTEGER NOT NULL,
    timeout_seconds    INTEGER NOT NULL,
    queue_position     INTEGER,
    total_transfers    INTEGER NOT NULL,
    executed_transfers INTEGER NOT NULL DEFAULT 0,
    price_symbol       TEXT NOT NULL DEFAULT '',
    dispute_reason     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS transfers (
    settlement_id INTEGER NOT NULL,
    idx           INTEGER NOT NULL,
    from_party    TEXT NOT NULL,
    to_party      TEXT NOT NULL,
    amount        INTEGER NOT NULL,
    executed      INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (settlement_id, idx),
    FOREIGN KEY (settlement_id) REFERENCES settlements(id)
);

CREATE TABLE IF NOT EXISTS deposits (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    settlement_id INTEGER NOT NULL,
    depositor     TEXT NOT NULL,
    amount        INTEGER NOT NULL,
    created_at    INTEGER NOT NULL,
    FOREIGN KEY (settlement_id) REFERENCES settlements(id)
);

CREATE TABLE IF NOT EXISTS accounts (
    party   TEXT PRIMARY KEY,
    balance INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    display_name  TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'user',
    created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_settlements_queue ON settlements(queue_position) WHERE queue_position IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_settlements_state ON settlements(state);
CREATE INDEX IF NOT EXISTS idx_deposits_settlement_id ON deposits(settlement_id);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
