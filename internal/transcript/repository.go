// Package transcript persists the messages produced by the session update
// router so a session can be replayed after the adapter restarts.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/acpadapter/internal/db"
	"github.com/kandev/acpadapter/internal/db/dialect"
	"github.com/kandev/acpadapter/internal/router"
)

// Repository stores transcript messages.
type Repository interface {
	// UpsertMessage inserts msg or replaces the stored copy with the same id.
	// seq orders messages within a session and is kept from the first insert.
	UpsertMessage(ctx context.Context, seq int64, msg router.Message) error
	ListMessages(ctx context.Context, sessionID string) ([]router.Message, error)
	ListSessions(ctx context.Context) ([]string, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}

type sqlRepository struct {
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader
	pool   *db.Pool
	ownsDB bool
}

var _ Repository = (*sqlRepository)(nil)

// NewRepository creates the schema on pool and returns a repository over it.
// The pool stays owned by the caller.
func NewRepository(pool *db.Pool) (Repository, error) {
	return newSQLRepository(pool, false)
}

func newSQLRepository(pool *db.Pool, owns bool) (*sqlRepository, error) {
	repo := &sqlRepository{db: pool.Writer(), ro: pool.Reader(), pool: pool, ownsDB: owns}
	if err := repo.initSchema(); err != nil {
		if owns {
			_ = pool.Close()
		}
		return nil, fmt.Errorf("failed to initialize transcript schema: %w", err)
	}
	return repo, nil
}

func (r *sqlRepository) Close() error {
	if !r.ownsDB {
		return nil
	}
	return r.pool.Close()
}

func (r *sqlRepository) initSchema() error {
	driver := r.db.DriverName()
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS transcript_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq %[1]s NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		tool_call_id TEXT,
		tool_call %[2]s,
		plan %[2]s,
		created_at %[3]s NOT NULL,
		updated_at %[3]s NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcript_messages_session ON transcript_messages(session_id, seq);
	`, dialect.BigIntColumn(driver), dialect.JSONColumn(driver), dialect.TimestampColumn(driver))
	_, err := r.db.Exec(schema)
	return err
}

type messageRow struct {
	ID         string         `db:"id"`
	SessionID  string         `db:"session_id"`
	Seq        int64          `db:"seq"`
	Role       string         `db:"role"`
	Content    string         `db:"content"`
	ToolCallID sql.NullString `db:"tool_call_id"`
	ToolCall   sql.NullString `db:"tool_call"`
	Plan       sql.NullString `db:"plan"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func toRow(seq int64, msg router.Message) (messageRow, error) {
	row := messageRow{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Seq:       seq,
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.UTC(),
		UpdatedAt: msg.UpdatedAt.UTC(),
	}
	if msg.ToolCall != nil {
		data, err := json.Marshal(msg.ToolCall)
		if err != nil {
			return row, fmt.Errorf("marshal tool call: %w", err)
		}
		row.ToolCallID = sql.NullString{String: msg.ToolCall.ID, Valid: true}
		row.ToolCall = sql.NullString{String: string(data), Valid: true}
	}
	if msg.Plan != nil {
		data, err := json.Marshal(msg.Plan)
		if err != nil {
			return row, fmt.Errorf("marshal plan: %w", err)
		}
		row.Plan = sql.NullString{String: string(data), Valid: true}
	}
	return row, nil
}

func (row messageRow) message() (router.Message, error) {
	msg := router.Message{
		ID:        row.ID,
		SessionID: row.SessionID,
		Role:      router.Role(row.Role),
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.ToolCall.Valid {
		msg.ToolCall = &router.ToolCall{}
		if err := json.Unmarshal([]byte(row.ToolCall.String), msg.ToolCall); err != nil {
			return msg, fmt.Errorf("decode tool call of %s: %w", row.ID, err)
		}
	}
	if row.Plan.Valid {
		if err := json.Unmarshal([]byte(row.Plan.String), &msg.Plan); err != nil {
			return msg, fmt.Errorf("decode plan of %s: %w", row.ID, err)
		}
	}
	return msg, nil
}

func (r *sqlRepository) UpsertMessage(ctx context.Context, seq int64, msg router.Message) error {
	row, err := toRow(seq, msg)
	if err != nil {
		return err
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO transcript_messages
			(id, session_id, seq, role, content, tool_call_id, tool_call, plan, created_at, updated_at)
		VALUES
			(:id, :session_id, :seq, :role, :content, :tool_call_id, :tool_call, :plan, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			role = excluded.role,
			content = excluded.content,
			tool_call_id = excluded.tool_call_id,
			tool_call = excluded.tool_call,
			plan = excluded.plan,
			updated_at = excluded.updated_at
	`, row)
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", msg.ID, err)
	}
	return nil
}

func (r *sqlRepository) ListMessages(ctx context.Context, sessionID string) ([]router.Message, error) {
	var rows []messageRow
	err := r.ro.SelectContext(ctx, &rows, r.ro.Rebind(`
		SELECT id, session_id, seq, role, content, tool_call_id, tool_call, plan, created_at, updated_at
		FROM transcript_messages
		WHERE session_id = ?
		ORDER BY seq ASC
	`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]router.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := row.message()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *sqlRepository) ListSessions(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.ro.SelectContext(ctx, &ids, `
		SELECT session_id FROM transcript_messages
		GROUP BY session_id
		ORDER BY MIN(created_at) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

func (r *sqlRepository) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM transcript_messages WHERE session_id = ?`), sessionID)
	return err
}
