package browser

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/gridiron/internal/checkpoint"
	"github.com/haasonsaas/gridiron/pkg/models"
)

// RecordStore persists session records so that sessions outlive a single
// process for listing and sweeping. Pages themselves are never persisted.
type RecordStore interface {
	Put(ctx context.Context, rec models.AutomationSession) error
	List(ctx context.Context) ([]models.AutomationSession, error)
	Delete(ctx context.Context, sessionID string) error
}

// MemoryRecords is an in-process RecordStore.
type MemoryRecords struct {
	mu   sync.RWMutex
	recs map[string]models.AutomationSession
}

// NewMemoryRecords creates an empty record store.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{recs: make(map[string]models.AutomationSession)}
}

func (m *MemoryRecords) Put(_ context.Context, rec models.AutomationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.SessionID] = rec
	return nil
}

func (m *MemoryRecords) List(_ context.Context) ([]models.AutomationSession, error) {
	m.mu.RLock()
	out := make([]models.AutomationSession, 0, len(m.recs))
	for _, rec := range m.recs {
		out = append(out, rec)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRecords) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, sessionID)
	return nil
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS automation_sessions (
	session_id       TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	created_at       BIGINT NOT NULL,
	last_activity_at BIGINT NOT NULL,
	is_active        BOOLEAN NOT NULL,
	current_url      TEXT NOT NULL DEFAULT ''
)`

// SQLRecords stores session records next to checkpoints, sharing the
// checkpoint store's connection.
type SQLRecords struct {
	db      *sql.DB
	dialect checkpoint.Dialect
}

// NewSQLRecords creates the sessions table on db if needed.
func NewSQLRecords(ctx context.Context, db *sql.DB, dialect checkpoint.Dialect) (*SQLRecords, error) {
	if _, err := db.ExecContext(ctx, sessionSchema); err != nil {
		return nil, fmt.Errorf("failed to create automation_sessions table: %w", err)
	}
	return &SQLRecords{db: db, dialect: dialect}, nil
}

func (s *SQLRecords) Put(ctx context.Context, rec models.AutomationSession) error {
	query := s.dialect.Rebind(`
		INSERT INTO automation_sessions (session_id, owner_id, created_at, last_activity_at, is_active, current_url)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			last_activity_at = excluded.last_activity_at,
			is_active = excluded.is_active,
			current_url = excluded.current_url`)
	_, err := s.db.ExecContext(ctx, query,
		rec.SessionID,
		rec.OwnerID,
		rec.CreatedAt.UnixMilli(),
		rec.LastActivityAt.UnixMilli(),
		rec.IsActive,
		rec.CurrentURL,
	)
	if err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

func (s *SQLRecords) List(ctx context.Context) ([]models.AutomationSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, owner_id, created_at, last_activity_at, is_active, current_url
		FROM automation_sessions
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	defer rows.Close()

	var out []models.AutomationSession
	for rows.Next() {
		var rec models.AutomationSession
		var created, active int64
		if err := rows.Scan(&rec.SessionID, &rec.OwnerID, &created, &active, &rec.IsActive, &rec.CurrentURL); err != nil {
			return nil, fmt.Errorf("failed to scan session record: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(created).UTC()
		rec.LastActivityAt = time.UnixMilli(active).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLRecords) Delete(ctx context.Context, sessionID string) error {
	query := s.dialect.Rebind(`DELETE FROM automation_sessions WHERE session_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}
