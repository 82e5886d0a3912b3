package repository

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/draftd/internal/domain/draft"
)

// SQLiteRepository persists sessions as JSON documents in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// OpenSQLite opens (or creates) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", ErrNotConfigured)
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under the writer pool.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, s *draft.Session) error {
	return r.upsert(ctx, s)
}

func (r *SQLiteRepository) Update(ctx context.Context, s *draft.Session) error {
	return r.upsert(ctx, s)
}

func (r *SQLiteRepository) upsert(ctx context.Context, s *draft.Session) error {
	if r == nil || r.db == nil {
		return ErrNotConfigured
	}
	if s == nil || s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}
	data, err := encode(s)
	if err != nil {
		return err
	}
	var completed sql.NullInt64
	if s.CompletedAt != nil {
		completed = sql.NullInt64{Int64: toMillis(*s.CompletedAt), Valid: true}
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO draft_sessions (id, arena_id, manager_id, status, data, created_at, updated_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status = excluded.status,
    data = excluded.data,
    updated_at = excluded.updated_at,
    completed_at = excluded.completed_at`,
		s.ID, s.ArenaID, s.ManagerID, string(s.Status), string(data),
		toMillis(s.CreatedAt), toMillis(s.UpdatedAt), completed,
	)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", s.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return ErrNotConfigured
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM draft_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) FindActive(ctx context.Context) ([]*draft.Session, error) {
	return r.query(ctx, `SELECT data FROM draft_sessions WHERE status NOT IN (?, ?) ORDER BY created_at DESC, id DESC`,
		string(draft.StatusCompleted), string(draft.StatusCancelled))
}

func (r *SQLiteRepository) FindByArena(ctx context.Context, arenaID string) ([]*draft.Session, error) {
	return r.query(ctx, `SELECT data FROM draft_sessions WHERE arena_id = ? ORDER BY created_at DESC, id DESC`, arenaID)
}

func (r *SQLiteRepository) ListArchivedBefore(ctx context.Context, t time.Time) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, ErrNotConfigured
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id FROM draft_sessions
WHERE status IN (?, ?) AND COALESCE(completed_at, updated_at) < ?
ORDER BY COALESCE(completed_at, updated_at)`,
		string(draft.StatusCompleted), string(draft.StatusCancelled), toMillis(t))
	if err != nil {
		return nil, fmt.Errorf("list archived: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan archived id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteRepository) query(ctx context.Context, q string, args ...any) ([]*draft.Session, error) {
	if r == nil || r.db == nil {
		return nil, ErrNotConfigured
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()
	out := make([]*draft.Session, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s, err := decode([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the SQLite handle.
func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
