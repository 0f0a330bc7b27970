package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/gridiron/pkg/models"
)

// Dialect selects placeholder syntax for a SQL backend.
type Dialect int

const (
	// DialectSQLite uses ? placeholders.
	DialectSQLite Dialect = iota
	// DialectPostgres uses $N placeholders (Postgres and CockroachDB).
	DialectPostgres
)

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const checkpointSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id     TEXT PRIMARY KEY,
	version       BIGINT NOT NULL,
	state         TEXT NOT NULL,
	message_count INTEGER NOT NULL,
	saved_at      BIGINT NOT NULL
)`

// SQLStore implements Store on database/sql. It backs both the SQLite and
// the Postgres/CockroachDB stores.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// DB exposes the underlying database connection for related stores.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect returns the placeholder dialect of the connection.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Migrate creates the checkpoints table if needed.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, checkpointSchema); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, threadID string) (*models.Checkpoint, error) {
	var (
		version int64
		data    string
		savedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT version, state, saved_at FROM checkpoints WHERE thread_id = ?`),
		threadID,
	).Scan(&version, &data, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	state, err := decodeState([]byte(data))
	if err != nil {
		return nil, err
	}
	return &models.Checkpoint{
		ThreadID: threadID,
		Version:  version,
		State:    state,
		SavedAt:  time.UnixMilli(savedAt).UTC(),
	}, nil
}

func (s *SQLStore) Save(ctx context.Context, threadID string, state *models.TurnState, baseVersion int64) (int64, error) {
	if err := validateSave(threadID, state, baseVersion); err != nil {
		return 0, err
	}
	data, err := encodeState(threadID, state)
	if err != nil {
		return 0, err
	}
	next := baseVersion + 1
	savedAt := s.now().UnixMilli()

	var res sql.Result
	if baseVersion == 0 {
		res, err = s.db.ExecContext(ctx, s.dialect.Rebind(`
			INSERT INTO checkpoints (thread_id, version, state, message_count, saved_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (thread_id) DO NOTHING`),
			threadID, next, string(data), len(state.Messages), savedAt,
		)
	} else {
		res, err = s.db.ExecContext(ctx, s.dialect.Rebind(`
			UPDATE checkpoints SET version = ?, state = ?, message_count = ?, saved_at = ?
			WHERE thread_id = ? AND version = ?`),
			next, string(data), len(state.Messages), savedAt, threadID, baseVersion,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if rows == 0 {
		return 0, s.staleWrite(ctx, threadID, baseVersion)
	}
	return next, nil
}

func (s *SQLStore) staleWrite(ctx context.Context, threadID string, baseVersion int64) error {
	var current int64
	err := s.db.QueryRowContext(ctx,
		s.dialect.Rebind(`SELECT version FROM checkpoints WHERE thread_id = ?`),
		threadID,
	).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: thread %s (version lookup failed: %v)", ErrStaleWrite, threadID, err)
	}
	return &StaleWriteError{ThreadID: threadID, BaseVersion: baseVersion, CurrentVersion: current}
}

func (s *SQLStore) List(ctx context.Context, limit int) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
		SELECT thread_id, version, message_count, saved_at
		FROM checkpoints
		ORDER BY saved_at DESC, thread_id
		LIMIT ?`), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			savedAt int64
		)
		if err := rows.Scan(&sum.ThreadID, &sum.Version, &sum.MessageCount, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		sum.SavedAt = time.UnixMilli(savedAt).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx,
		s.dialect.Rebind(`DELETE FROM checkpoints WHERE thread_id = ?`), threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
