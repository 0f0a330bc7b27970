// Package checkpoint persists versioned snapshots of a thread's turn state.
//
// Every backend implements the same optimistic concurrency contract: Save
// succeeds only when the caller's base version equals the stored version
// (zero meaning "no checkpoint yet"), and returns the new version. A reader
// never observes a partially written state.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/gridiron/pkg/models"
)

var (
	// ErrNotFound is returned by Load when a thread has no checkpoint.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStaleWrite is returned by Save when the base version no longer
	// matches the stored version.
	ErrStaleWrite = errors.New("stale checkpoint write")

	// ErrInvalidState is returned by Save when the state breaks the
	// message log invariants.
	ErrInvalidState = errors.New("invalid turn state")
)

// StaleWriteError carries the versions involved in a rejected Save.
type StaleWriteError struct {
	ThreadID       string
	BaseVersion    int64
	CurrentVersion int64
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("stale checkpoint write for thread %s: base version %d, stored version %d",
		e.ThreadID, e.BaseVersion, e.CurrentVersion)
}

// Is lets errors.Is match ErrStaleWrite.
func (e *StaleWriteError) Is(target error) bool {
	return target == ErrStaleWrite
}

// Summary describes a stored checkpoint without its message log.
type Summary struct {
	ThreadID     string    `json:"thread_id"`
	Version      int64     `json:"version"`
	MessageCount int       `json:"message_count"`
	SavedAt      time.Time `json:"saved_at"`
}

// Store persists checkpoints keyed by thread id.
type Store interface {
	// Load returns the latest checkpoint or ErrNotFound.
	Load(ctx context.Context, threadID string) (*models.Checkpoint, error)

	// Save writes state if baseVersion matches the stored version and
	// returns the new version.
	Save(ctx context.Context, threadID string, state *models.TurnState, baseVersion int64) (int64, error)

	// List returns the most recently saved checkpoints first.
	List(ctx context.Context, limit int) ([]Summary, error)

	// Delete removes a thread's checkpoint. Deleting a missing thread is not an error.
	Delete(ctx context.Context, threadID string) error

	Close() error
}

func validateSave(threadID string, state *models.TurnState, baseVersion int64) error {
	if strings.TrimSpace(threadID) == "" {
		return errors.New("thread ID is required")
	}
	if state == nil {
		return fmt.Errorf("%w: state is nil", ErrInvalidState)
	}
	if baseVersion < 0 {
		return fmt.Errorf("base version must be non-negative, got %d", baseVersion)
	}
	if err := state.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return nil
}

func encodeState(threadID string, state *models.TurnState) ([]byte, error) {
	cp := *state
	cp.ThreadID = threadID
	data, err := json.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode turn state: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (*models.TurnState, error) {
	var state models.TurnState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode turn state: %w", err)
	}
	if state.Messages == nil {
		state.Messages = []models.Message{}
	}
	return &state, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
