// Package store persists sessions, messages, and the audit trail in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"wagate/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.SessionStore, domain.MessageStore, and
// domain.AuditStore on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id           TEXT PRIMARY KEY,
		tenant_id    TEXT NOT NULL,
		name         TEXT,
		state        TEXT NOT NULL,
		qr_code      TEXT,
		webhook_url  TEXT,
		last_active  DATETIME,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON sessions(tenant_id);

	CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		tenant_id   TEXT NOT NULL,
		direction   TEXT NOT NULL,
		sender      TEXT,
		recipient   TEXT,
		body        TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_tenant_time ON messages(tenant_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS audit_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id   TEXT NOT NULL,
		action      TEXT NOT NULL,
		category    TEXT,
		details     TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_tenant_time ON audit_log(tenant_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess domain.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, tenant_id, name, state, qr_code, webhook_url, last_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.TenantID, sess.Name, string(sess.State), sess.QRCode, sess.WebhookURL,
		nullableTime(sess.LastActive), sess.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, state, qr_code, webhook_url, last_active, created_at
		 FROM sessions WHERE id = ?`, id,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name=?, state=?, qr_code=?, webhook_url=?, last_active=? WHERE id=?`,
		sess.Name, string(sess.State), sess.QRCode, sess.WebhookURL,
		nullableTime(sess.LastActive), sess.ID,
	)
	return err
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) ListSessions(ctx context.Context, tenantID string) ([]domain.Session, error) {
	query := `SELECT id, tenant_id, name, state, qr_code, webhook_url, last_active, created_at
	          FROM sessions ORDER BY created_at`
	args := []any{}
	if tenantID != "" {
		query = `SELECT id, tenant_id, name, state, qr_code, webhook_url, last_active, created_at
		         FROM sessions WHERE tenant_id = ? ORDER BY created_at`
		args = append(args, tenantID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) CountSessions(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE tenant_id = ?`, tenantID,
	).Scan(&n)
	return n, err
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, m domain.MessageRecord) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (id, session_id, tenant_id, direction, sender, recipient, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.TenantID, m.Direction, m.Sender, m.Recipient, m.Body, m.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) CountMessagesSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE tenant_id = ? AND direction = 'out' AND created_at >= ?`,
		tenantID, since,
	).Scan(&n)
	return n, err
}

func (s *SQLiteStore) LogAudit(ctx context.Context, e domain.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (tenant_id, action, category, details, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.TenantID, e.Action, e.Category, e.Details, e.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var state string
	var qr, webhook sql.NullString
	var lastActive sql.NullTime
	if err := r.Scan(&sess.ID, &sess.TenantID, &sess.Name, &state,
		&qr, &webhook, &lastActive, &sess.CreatedAt); err != nil {
		return nil, err
	}
	sess.State = domain.State(state)
	sess.QRCode = qr.String
	sess.WebhookURL = webhook.String
	if lastActive.Valid {
		sess.LastActive = &lastActive.Time
	}
	return &sess, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
