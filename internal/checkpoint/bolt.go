package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/haasonsaas/gridiron/pkg/models"
)

const bucketCheckpoints = "checkpoints"

// BoltStore keeps checkpoints in a single bbolt file. bbolt allows one
// writer at a time, so the version check and the put share a transaction.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore opens (creating if needed) a bbolt checkpoint file.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketCheckpoints))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) Load(_ context.Context, threadID string) (*models.Checkpoint, error) {
	var env *envelope
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketCheckpoints)).Get([]byte(threadID))
		if v == nil {
			return ErrNotFound
		}
		var err error
		env, err = decodeEnvelope(v)
		return err
	})
	if err != nil {
		return nil, err
	}
	return env.checkpoint(threadID)
}

func (s *BoltStore) Save(_ context.Context, threadID string, state *models.TurnState, baseVersion int64) (int64, error) {
	if err := validateSave(threadID, state, baseVersion); err != nil {
		return 0, err
	}
	data, err := encodeState(threadID, state)
	if err != nil {
		return 0, err
	}
	next := baseVersion + 1

	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketCheckpoints))
		var current int64
		if v := bucket.Get([]byte(threadID)); v != nil {
			env, err := decodeEnvelope(v)
			if err != nil {
				return err
			}
			current = env.Version
		}
		if current != baseVersion {
			return &StaleWriteError{ThreadID: threadID, BaseVersion: baseVersion, CurrentVersion: current}
		}
		value, err := json.Marshal(envelope{
			Version:      next,
			MessageCount: len(state.Messages),
			SavedAt:      s.now().UTC(),
			State:        data,
		})
		if err != nil {
			return err
		}
		return bucket.Put([]byte(threadID), value)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *BoltStore) List(_ context.Context, limit int) ([]Summary, error) {
	var out []Summary
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketCheckpoints)).ForEach(func(k, v []byte) error {
			env, err := decodeEnvelope(v)
			if err != nil {
				return err
			}
			out = append(out, env.summary(string(k)))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *BoltStore) Delete(_ context.Context, threadID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketCheckpoints)).Delete([]byte(threadID))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
