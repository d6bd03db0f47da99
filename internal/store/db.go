// Package store persists workspace registrations and per-user secrets
// (cookie jars, settings) in a single local sqlite file. Secret columns are
// sealed with internal/secretbox before they ever reach disk.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fuba/youtube2slackthread/internal/secretbox"
)

// sqlDB wraps sqlx.DB the way the rest of the ecosystem does: a thin shell
// that lets us hang extra methods (migrations, column introspection) off the
// connection without exporting the raw handle everywhere.
type sqlDB struct {
	*sqlx.DB
}

// DB is the embedded sqlite-backed store for workspace and user-secret
// state. One process owns exactly one DB, opened against one file.
type DB struct {
	sql *sqlDB
	box *secretbox.Box
	log *slog.Logger
}

// Open connects to the sqlite file at path, creating it if absent, applies
// pending migrations, and runs the idempotent legacy backfill. box seals and
// opens the secret columns (bot token, signing secret, cookies).
func Open(path string, box *secretbox.Box, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	conn, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// sqlite has no real connection pool; keep it to one writer to avoid
	// "database is locked" under the WAL journal.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	wrapped := &sqlDB{DB: conn}

	if err := migrateUp(wrapped, path); err != nil {
		conn.Close()
		return nil, err
	}

	d := &DB{sql: wrapped, box: box, log: log.With("component", "store")}
	if err := d.backfillLegacyTeamID(); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

// Close releases the underlying sqlite connection.
func (d *DB) Close() error {
	return d.sql.DB.Close()
}

// Ping checks that the sqlite connection is alive, for use as a readiness
// check (see internal/health).
func (d *DB) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// hasColumn reports whether table already has a column named col, using
// sqlite's PRAGMA table_info rather than golang-migrate — migrations are
// forward-only and one-shot, but this check must run every startup to decide
// whether the one-time legacy backfill below still has work to do.
func (d *DB) hasColumn(table, col string) (bool, error) {
	rows, err := d.sql.Queryx(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("store: inspect %s schema: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notNull    int
			dfltValue  any
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &primaryKey); err != nil {
			return false, fmt.Errorf("store: scan table_info row: %w", err)
		}
		if name == col {
			return true, nil
		}
	}
	return false, rows.Err()
}

// backfillLegacyTeamID exists for deployments upgraded from a pre-workspace
// single-team build where user_cookies/user_settings rows predate the
// team_id column. Schema creation always includes team_id (see
// migrations/00001_init.up.sql), so on a fresh database this is a no-op; it
// only matters for a sqlite file carried forward from that earlier layout.
// golang-migrate's linear up/down files can't express "backfill only if the
// column is new", so this runs unconditionally after migrateUp and checks
// hasColumn itself each time.
func (d *DB) backfillLegacyTeamID() error {
	for _, table := range []string{"user_cookies", "user_settings"} {
		ok, err := d.hasColumn(table, "team_id")
		if err != nil {
			return err
		}
		if !ok {
			// Should be unreachable once migrations always define team_id,
			// but guards against a hand-edited schema in the field.
			return fmt.Errorf("store: table %s is missing team_id; manual intervention required", table)
		}

		res, err := d.sql.Exec(
			fmt.Sprintf(`UPDATE %s SET team_id = ? WHERE team_id IS NULL OR team_id = ''`, table),
			defaultTeamID,
		)
		if err != nil {
			return fmt.Errorf("store: backfill %s.team_id: %w", table, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			d.log.Info("backfilled legacy team_id", "table", table, "rows", n)
		}
	}
	return nil
}

// defaultTeamID is assigned to rows created before workspaces existed.
const defaultTeamID = "_default_"
