package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/gridiron/pkg/models"
)

// envelope is the value layout for key/value backends.
type envelope struct {
	Version      int64           `json:"version"`
	MessageCount int             `json:"message_count"`
	SavedAt      time.Time       `json:"saved_at"`
	State        json.RawMessage `json:"state"`
}

func decodeEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &env, nil
}

func (e *envelope) checkpoint(threadID string) (*models.Checkpoint, error) {
	state, err := decodeState(e.State)
	if err != nil {
		return nil, err
	}
	return &models.Checkpoint{
		ThreadID: threadID,
		Version:  e.Version,
		State:    state,
		SavedAt:  e.SavedAt,
	}, nil
}

func (e *envelope) summary(threadID string) Summary {
	return Summary{
		ThreadID:     threadID,
		Version:      e.Version,
		MessageCount: e.MessageCount,
		SavedAt:      e.SavedAt,
	}
}
