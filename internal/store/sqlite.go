package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ent0n29/runcoach/internal/plan"
)

// SQLiteStore persists messages and plan lineage in an embedded SQLite file.
// All access goes through a single connection, so transactions for the same
// client never interleave.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			client_id  TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_client_seq ON conversations (client_id, seq);`,
		`CREATE TABLE IF NOT EXISTS plan_versions (
			client_id  TEXT NOT NULL,
			version    INTEGER NOT NULL,
			is_current INTEGER NOT NULL DEFAULT 0,
			plan_json  TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (client_id, version)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_plan_versions_current ON plan_versions (client_id) WHERE is_current = 1;`,
		`CREATE TABLE IF NOT EXISTS plan_heads (
			client_id       TEXT PRIMARY KEY,
			current_version INTEGER NOT NULL,
			updated_at      TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Mode() string { return "sqlite" }

func (s *SQLiteStore) AppendMessage(ctx context.Context, clientID string, role Role, content string) (Message, error) {
	msg := Message{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, client_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ClientID, string(msg.Role), msg.Content, formatTime(msg.CreatedAt),
	)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, clientID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_id, role, content, created_at FROM conversations WHERE client_id = ? ORDER BY seq ASC`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m         Message
			role      string
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.ClientID, &role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) LatestVersion(ctx context.Context, clientID string) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT current_version FROM plan_heads WHERE client_id = ?`, clientID).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read plan head: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) CommitVersion(ctx context.Context, clientID string, expected int, doc plan.Document) (PlanVersion, error) {
	body, err := encodePlan(doc)
	if err != nil {
		return PlanVersion{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PlanVersion{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var head int
	err = tx.QueryRowContext(ctx, `SELECT current_version FROM plan_heads WHERE client_id = ?`, clientID).Scan(&head)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return PlanVersion{}, fmt.Errorf("read plan head: %w", err)
	}
	if head != expected {
		return PlanVersion{}, conflictError(clientID, expected, head)
	}

	v := PlanVersion{
		ClientID:  clientID,
		Version:   head + 1,
		IsCurrent: true,
		Plan:      doc,
		CreatedAt: time.Now().UTC(),
	}
	now := formatTime(v.CreatedAt)
	if _, err := tx.ExecContext(ctx,
		`UPDATE plan_versions SET is_current = 0 WHERE client_id = ? AND is_current = 1`, clientID,
	); err != nil {
		return PlanVersion{}, fmt.Errorf("demote current plan: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO plan_versions (client_id, version, is_current, plan_json, created_at) VALUES (?, ?, 1, ?, ?)`,
		v.ClientID, v.Version, string(body), now,
	); err != nil {
		return PlanVersion{}, mapSQLiteError(fmt.Errorf("insert plan version: %w", err))
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO plan_heads (client_id, current_version, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (client_id) DO UPDATE SET current_version = excluded.current_version, updated_at = excluded.updated_at`,
		clientID, v.Version, now,
	); err != nil {
		return PlanVersion{}, fmt.Errorf("advance plan head: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return PlanVersion{}, mapSQLiteError(fmt.Errorf("commit tx: %w", err))
	}
	return v, nil
}

func (s *SQLiteStore) CurrentVersion(ctx context.Context, clientID string) (PlanVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT client_id, version, is_current, plan_json, created_at FROM plan_versions WHERE client_id = ? AND is_current = 1`,
		clientID,
	)
	return scanSQLitePlan(row)
}

func (s *SQLiteStore) GetVersion(ctx context.Context, clientID string, version int) (PlanVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT client_id, version, is_current, plan_json, created_at FROM plan_versions WHERE client_id = ? AND version = ?`,
		clientID, version,
	)
	return scanSQLitePlan(row)
}

func (s *SQLiteStore) ListVersions(ctx context.Context, clientID string, limit int) ([]PlanVersion, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id, version, is_current, plan_json, created_at FROM plan_versions
		 WHERE client_id = ? ORDER BY version DESC LIMIT ?`,
		clientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query plan versions: %w", err)
	}
	defer rows.Close()

	var out []PlanVersion
	for rows.Next() {
		v, err := scanSQLitePlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Purge(ctx context.Context, clientID string) (ResetResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ResetResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var res ResetResult
	r, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE client_id = ?`, clientID)
	if err != nil {
		return ResetResult{}, fmt.Errorf("delete messages: %w", err)
	}
	if res.MessagesDeleted, err = r.RowsAffected(); err != nil {
		return ResetResult{}, fmt.Errorf("count deleted messages: %w", err)
	}

	r, err = tx.ExecContext(ctx, `DELETE FROM plan_versions WHERE client_id = ?`, clientID)
	if err != nil {
		return ResetResult{}, fmt.Errorf("delete plan versions: %w", err)
	}
	if res.PlansDeleted, err = r.RowsAffected(); err != nil {
		return ResetResult{}, fmt.Errorf("count deleted plans: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_heads WHERE client_id = ?`, clientID); err != nil {
		return ResetResult{}, fmt.Errorf("delete plan head: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ResetResult{}, fmt.Errorf("commit tx: %w", err)
	}
	return res, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePlan(row rowScanner) (PlanVersion, error) {
	var (
		v         PlanVersion
		isCurrent int
		body      string
		createdAt string
	)
	if err := row.Scan(&v.ClientID, &v.Version, &isCurrent, &body, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PlanVersion{}, ErrNotFound
		}
		return PlanVersion{}, fmt.Errorf("scan plan row: %w", err)
	}
	doc, err := decodePlan([]byte(body))
	if err != nil {
		return PlanVersion{}, err
	}
	v.IsCurrent = isCurrent == 1
	v.Plan = doc
	v.CreatedAt = parseTime(createdAt)
	return v, nil
}

func mapSQLiteError(err error) error {
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
