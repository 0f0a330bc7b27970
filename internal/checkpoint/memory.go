package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/gridiron/pkg/models"
)

type memoryRecord struct {
	version  int64
	data     []byte
	messages int
	savedAt  time.Time
}

// MemoryStore keeps checkpoints in process memory. States are stored
// encoded so callers never share slices with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
		now:     time.Now,
	}
}

func (s *MemoryStore) Load(ctx context.Context, threadID string) (*models.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	rec, ok := s.records[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	state, err := decodeState(rec.data)
	if err != nil {
		return nil, err
	}
	return &models.Checkpoint{
		ThreadID: threadID,
		Version:  rec.version,
		State:    state,
		SavedAt:  rec.savedAt,
	}, nil
}

func (s *MemoryStore) Save(ctx context.Context, threadID string, state *models.TurnState, baseVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validateSave(threadID, state, baseVersion); err != nil {
		return 0, err
	}
	data, err := encodeState(threadID, state)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.records[threadID].version
	if current != baseVersion {
		return 0, &StaleWriteError{ThreadID: threadID, BaseVersion: baseVersion, CurrentVersion: current}
	}
	next := baseVersion + 1
	s.records[threadID] = memoryRecord{
		version:  next,
		data:     data,
		messages: len(state.Messages),
		savedAt:  s.now(),
	}
	return next, nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Summary, 0, len(s.records))
	for id, rec := range s.records {
		out = append(out, Summary{ThreadID: id, Version: rec.version, MessageCount: rec.messages, SavedAt: rec.savedAt})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].ThreadID < out[j].ThreadID
		}
		return out[i].SavedAt.After(out[j].SavedAt)
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, threadID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
