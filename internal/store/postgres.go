package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/runcoach/internal/plan"
)

const pgUniqueViolation = "23505"

// PostgresStore persists messages and plan lineage in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			client_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_client_seq ON conversations (client_id, seq);`,
		// JSON rather than JSONB so week key order survives a round trip.
		`CREATE TABLE IF NOT EXISTS plan_versions (
			client_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			is_current BOOLEAN NOT NULL DEFAULT FALSE,
			plan_json JSON NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (client_id, version)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_plan_versions_current ON plan_versions (client_id) WHERE is_current;`,
		`CREATE TABLE IF NOT EXISTS plan_heads (
			client_id TEXT PRIMARY KEY,
			current_version INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) AppendMessage(ctx context.Context, clientID string, role Role, content string) (Message, error) {
	msg := Message{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, client_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		msg.ID,
		msg.ClientID,
		string(msg.Role),
		msg.Content,
		msg.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, clientID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, client_id, role, content, created_at
		 FROM conversations WHERE client_id=$1 ORDER BY seq ASC`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.ClientID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) LatestVersion(ctx context.Context, clientID string) (int, error) {
	var v int
	err := s.pool.QueryRow(ctx, `SELECT current_version FROM plan_heads WHERE client_id=$1`, clientID).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read plan head: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) CommitVersion(ctx context.Context, clientID string, expected int, doc plan.Document) (PlanVersion, error) {
	body, err := encodePlan(doc)
	if err != nil {
		return PlanVersion{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return PlanVersion{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO plan_heads (client_id, current_version) VALUES ($1, 0)
		 ON CONFLICT (client_id) DO NOTHING`,
		clientID,
	); err != nil {
		return PlanVersion{}, mapPgError(fmt.Errorf("ensure plan head: %w", err))
	}

	var head int
	if err := tx.QueryRow(ctx,
		`SELECT current_version FROM plan_heads WHERE client_id=$1 FOR UPDATE`,
		clientID,
	).Scan(&head); err != nil {
		return PlanVersion{}, fmt.Errorf("lock plan head: %w", err)
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
	if _, err := tx.Exec(ctx,
		`UPDATE plan_versions SET is_current=FALSE WHERE client_id=$1 AND is_current`,
		clientID,
	); err != nil {
		return PlanVersion{}, fmt.Errorf("demote current plan: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO plan_versions (client_id, version, is_current, plan_json, created_at)
		 VALUES ($1, $2, TRUE, $3, $4)`,
		v.ClientID,
		v.Version,
		string(body),
		v.CreatedAt,
	); err != nil {
		return PlanVersion{}, mapPgError(fmt.Errorf("insert plan version: %w", err))
	}
	if _, err := tx.Exec(ctx,
		`UPDATE plan_heads SET current_version=$2, updated_at=$3 WHERE client_id=$1`,
		clientID,
		v.Version,
		v.CreatedAt,
	); err != nil {
		return PlanVersion{}, fmt.Errorf("advance plan head: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return PlanVersion{}, mapPgError(fmt.Errorf("commit tx: %w", err))
	}
	return v, nil
}

func (s *PostgresStore) CurrentVersion(ctx context.Context, clientID string) (PlanVersion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT client_id, version, is_current, plan_json, created_at
		 FROM plan_versions WHERE client_id=$1 AND is_current`,
		clientID,
	)
	return scanPlanRow(row)
}

func (s *PostgresStore) GetVersion(ctx context.Context, clientID string, version int) (PlanVersion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT client_id, version, is_current, plan_json, created_at
		 FROM plan_versions WHERE client_id=$1 AND version=$2`,
		clientID,
		version,
	)
	return scanPlanRow(row)
}

func (s *PostgresStore) ListVersions(ctx context.Context, clientID string, limit int) ([]PlanVersion, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT client_id, version, is_current, plan_json, created_at
		 FROM plan_versions WHERE client_id=$1 ORDER BY version DESC LIMIT $2`,
		clientID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query plan versions: %w", err)
	}
	defer rows.Close()

	out := make([]PlanVersion, 0, limit)
	for rows.Next() {
		v, err := scanPlanRow(rows)
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

func (s *PostgresStore) Purge(ctx context.Context, clientID string) (ResetResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ResetResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var res ResetResult
	tag, err := tx.Exec(ctx, `DELETE FROM conversations WHERE client_id=$1`, clientID)
	if err != nil {
		return ResetResult{}, fmt.Errorf("delete messages: %w", err)
	}
	res.MessagesDeleted = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `DELETE FROM plan_versions WHERE client_id=$1`, clientID)
	if err != nil {
		return ResetResult{}, fmt.Errorf("delete plan versions: %w", err)
	}
	res.PlansDeleted = tag.RowsAffected()

	if _, err := tx.Exec(ctx, `DELETE FROM plan_heads WHERE client_id=$1`, clientID); err != nil {
		return ResetResult{}, fmt.Errorf("delete plan head: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ResetResult{}, fmt.Errorf("commit tx: %w", err)
	}
	return res, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPlanRow(row pgx.Row) (PlanVersion, error) {
	var (
		v    PlanVersion
		body []byte
	)
	if err := row.Scan(&v.ClientID, &v.Version, &v.IsCurrent, &body, &v.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PlanVersion{}, ErrNotFound
		}
		return PlanVersion{}, fmt.Errorf("scan plan row: %w", err)
	}
	doc, err := decodePlan(body)
	if err != nil {
		return PlanVersion{}, err
	}
	v.Plan = doc
	return v, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
