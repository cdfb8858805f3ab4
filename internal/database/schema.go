package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Column types differ per dialect; everything else is shared.
type dialect struct {
	text             string
	key              string
	timestamp        string
	boolean          string
	trueLit          string
	ifNotExistsIndex bool
}

var dialects = map[string]dialect{
	"postgres": {text: "TEXT", key: "VARCHAR(998)", timestamp: "TIMESTAMPTZ", boolean: "BOOLEAN", trueLit: "TRUE", ifNotExistsIndex: true},
	"mysql":    {text: "MEDIUMTEXT", key: "VARCHAR(255)", timestamp: "DATETIME(6)", boolean: "TINYINT(1)", trueLit: "1"},
	"sqlite3":  {text: "TEXT", key: "TEXT", timestamp: "DATETIME", boolean: "BOOLEAN", trueLit: "1", ifNotExistsIndex: true},
}

// Statements returns the DDL for driver in execution order.
func Statements(driver string) ([]string, error) {
	d, ok := dialects[NormalizeDriver(driver)]
	if !ok {
		return nil, fmt.Errorf("no schema for driver %q", driver)
	}
	r := strings.NewReplacer("{TEXT}", d.text, "{KEY}", d.key, "{TS}", d.timestamp, "{BOOL}", d.boolean, "{TRUE}", d.trueLit)

	stmts := make([]string, 0, len(tableDDL)+len(indexDDL))
	for _, s := range tableDDL {
		stmts = append(stmts, r.Replace(s))
	}
	for _, s := range indexDDL {
		s = r.Replace(s)
		if d.ifNotExistsIndex {
			s = strings.Replace(s, "CREATE INDEX", "CREATE INDEX IF NOT EXISTS", 1)
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

// Migrate creates missing tables and indexes. It is safe to run repeatedly on
// postgres and sqlite; on mysql duplicate index errors are ignored.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	stmts, err := Statements(db.DriverName())
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return nil
}

func isDuplicateIndex(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "duplicate key name")
}

var tableDDL = []string{
	`CREATE TABLE IF NOT EXISTS mailbox_accounts (
		id {KEY} NOT NULL PRIMARY KEY,
		tenant_id {KEY} NOT NULL,
		email_address {KEY} NOT NULL,
		protocol_type VARCHAR(16) NOT NULL DEFAULT 'imap',
		host {KEY} NOT NULL DEFAULT '',
		port INTEGER NOT NULL DEFAULT 0,
		use_tls {BOOL} NOT NULL DEFAULT {TRUE},
		username {KEY} NOT NULL DEFAULT '',
		encrypted_secret {TEXT},
		folder {KEY} NOT NULL DEFAULT '',
		outbound_host {KEY} NOT NULL DEFAULT '',
		outbound_port INTEGER NOT NULL DEFAULT 0,
		outbound_username {KEY} NOT NULL DEFAULT '',
		outbound_encrypted_secret {TEXT},
		is_active {BOOL} NOT NULL DEFAULT {TRUE},
		auto_fetch_enabled {BOOL} NOT NULL DEFAULT {TRUE},
		fetch_interval_seconds INTEGER NOT NULL DEFAULT 0,
		last_fetch_at {TS} NULL,
		last_fetch_status VARCHAR(16) NOT NULL DEFAULT 'never',
		last_fetch_error {TEXT},
		created_at {TS} NOT NULL,
		updated_at {TS} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id {KEY} NOT NULL PRIMARY KEY,
		tenant_id {KEY} NOT NULL,
		account_id {KEY} NOT NULL,
		message_id {KEY} NOT NULL DEFAULT '',
		from_addr {KEY} NOT NULL,
		from_name {KEY} NOT NULL DEFAULT '',
		to_addrs {TEXT},
		cc_addrs {TEXT},
		subject {TEXT},
		body_text {TEXT},
		body_html {TEXT},
		received_at {TS} NOT NULL,
		in_reply_to {KEY} NOT NULL DEFAULT '',
		references_ids {TEXT},
		source_channel VARCHAR(16) NOT NULL,
		dedupe_key {KEY} NOT NULL,
		thread_id {KEY} NOT NULL DEFAULT '',
		created_at {TS} NOT NULL,
		UNIQUE (tenant_id, dedupe_key)
	)`,
	`CREATE TABLE IF NOT EXISTS thread_links (
		thread_id {KEY} NOT NULL PRIMARY KEY,
		tenant_id {KEY} NOT NULL,
		root_message_id {KEY} NOT NULL,
		created_at {TS} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS thread_members (
		thread_id {KEY} NOT NULL,
		tenant_id {KEY} NOT NULL,
		message_id {KEY} NOT NULL,
		added_at {TS} NOT NULL,
		PRIMARY KEY (thread_id, message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS enqueue_ledger (
		tenant_id {KEY} NOT NULL,
		dedupe_key {KEY} NOT NULL,
		message_id {KEY} NOT NULL,
		priority VARCHAR(16) NOT NULL,
		queued_at {TS} NOT NULL,
		published_at {TS} NULL,
		PRIMARY KEY (tenant_id, dedupe_key)
	)`,
	`CREATE TABLE IF NOT EXISTS tenant_watchers (
		tenant_id {KEY} NOT NULL,
		email {KEY} NOT NULL,
		is_active {BOOL} NOT NULL DEFAULT {TRUE},
		PRIMARY KEY (tenant_id, email)
	)`,
	`CREATE TABLE IF NOT EXISTS account_watchers (
		account_id {KEY} NOT NULL,
		email {KEY} NOT NULL,
		is_active {BOOL} NOT NULL DEFAULT {TRUE},
		PRIMARY KEY (account_id, email)
	)`,
}

var indexDDL = []string{
	`CREATE INDEX idx_messages_tenant_message_id ON messages (tenant_id, message_id)`,
	`CREATE INDEX idx_messages_tenant_sender_received ON messages (tenant_id, from_addr, received_at)`,
	`CREATE INDEX idx_mailbox_accounts_tenant ON mailbox_accounts (tenant_id)`,
}
