// ABOUTME: SQLite implementation of the device credential registry
// ABOUTME: Uses modernc.org/sqlite with WAL mode and automatic schema creation

package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRegistry implements Registry using SQLite.
type SQLiteRegistry struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteRegistry creates a registry at the given path, creating parent
// directories and the schema as needed. Pass ":memory:" for tests.
func NewSQLiteRegistry(path string) (*SQLiteRegistry, error) {
	logger := slog.Default().With("component", "registry")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps writes linearizable: a committed revoke is
	// visible to the very next lookup with no stale-read window.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	r := &SQLiteRegistry{db: db, logger: logger}
	if err := r.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("registry initialized", "path", path)
	return r, nil
}

func (r *SQLiteRegistry) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS passkeys (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			public_key   BLOB NOT NULL,
			label        TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL,
			last_used_at DATETIME,
			revoked_at   DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_passkeys_user ON passkeys(user_id);
		CREATE INDEX IF NOT EXISTS idx_passkeys_user_active
			ON passkeys(user_id) WHERE revoked_at IS NULL;
	`
	_, err := r.db.Exec(schema)
	return err
}

// Add registers a credential, enforcing device uniqueness across users.
func (r *SQLiteRegistry) Add(ctx context.Context, rec *PasskeyRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var existingUser string
	err = tx.QueryRowContext(ctx,
		"SELECT user_id FROM passkeys WHERE id = ?", rec.ID,
	).Scan(&existingUser)
	switch {
	case err == nil:
		if existingUser != rec.UserID {
			return ErrDuplicateDevice
		}
		// Same key re-enrolled by the same user: nothing to do.
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("checking existing device: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO passkeys (id, user_id, public_key, label, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.PublicKey, rec.Label, createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting passkey: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	rec.CreatedAt = createdAt
	r.logger.Info("passkey registered", "id", rec.ID, "user_id", rec.UserID, "label", rec.Label)
	return nil
}

// Revoke marks a credential revoked, refusing to take a user to zero
// active credentials. The count check and update share one transaction so
// concurrent revokes serialize.
func (r *SQLiteRegistry) Revoke(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var userID string
	var revokedAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		"SELECT user_id, revoked_at FROM passkeys WHERE id = ?", id,
	).Scan(&userID, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading passkey: %w", err)
	}
	if revokedAt.Valid {
		return nil
	}

	var active int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM passkeys WHERE user_id = ? AND revoked_at IS NULL", userID,
	).Scan(&active)
	if err != nil {
		return fmt.Errorf("counting active passkeys: %w", err)
	}
	if active <= 1 {
		return ErrLastPasskey
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE passkeys SET revoked_at = ? WHERE id = ?", time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("revoking passkey: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	r.logger.Info("passkey revoked", "id", id, "user_id", userID)
	return nil
}

// List returns every record for a user, oldest first.
func (r *SQLiteRegistry) List(ctx context.Context, userID string) ([]*PasskeyRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, public_key, label, created_at, last_used_at, revoked_at
		FROM passkeys WHERE user_id = ? ORDER BY created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing passkeys: %w", err)
	}
	defer rows.Close()

	var records []*PasskeyRecord
	for rows.Next() {
		rec, err := scanPasskey(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Lookup returns the public key for an active credential.
func (r *SQLiteRegistry) Lookup(ctx context.Context, kid string) ([]byte, error) {
	var publicKey []byte
	err := r.db.QueryRowContext(ctx,
		"SELECT public_key FROM passkeys WHERE id = ? AND revoked_at IS NULL", kid,
	).Scan(&publicKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up passkey: %w", err)
	}
	return publicKey, nil
}

// TouchLastUsed updates the credential's last verification timestamp.
func (r *SQLiteRegistry) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE passkeys SET last_used_at = ? WHERE id = ?", time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("touching passkey: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

func scanPasskey(rows *sql.Rows) (*PasskeyRecord, error) {
	var rec PasskeyRecord
	var lastUsed, revoked sql.NullTime
	if err := rows.Scan(
		&rec.ID, &rec.UserID, &rec.PublicKey, &rec.Label,
		&rec.CreatedAt, &lastUsed, &revoked,
	); err != nil {
		return nil, fmt.Errorf("scanning passkey: %w", err)
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		rec.LastUsedAt = &t
	}
	if revoked.Valid {
		t := revoked.Time
		rec.RevokedAt = &t
	}
	return &rec, nil
}
