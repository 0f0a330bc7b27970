package credentials

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore reads secrets from a YAML file keyed by owner id:
//
//	alice:
//	  email: alice@example.com
//	  password: hunter22
//	bob:
//	  email: bob@example.com
//	  use_sso: true
//
// The file is re-read when its modification time changes. Files readable
// by group or others are rejected.
type FileStore struct {
	path string

	mu      sync.Mutex
	modTime int64
	secrets map[string]Secret
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) GetSecret(_ context.Context, ownerID string) (*Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reloadLocked(); err != nil {
		return nil, err
	}
	secret, ok := f.secrets[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &secret, nil
}

func (f *FileStore) reloadLocked() error {
	info, err := os.Stat(f.path)
	if os.IsNotExist(err) {
		f.secrets = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat credentials file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return fmt.Errorf("credentials file %s must not be accessible by group or others (mode %v)", f.path, info.Mode().Perm())
	}
	if f.secrets != nil && info.ModTime().UnixNano() == f.modTime {
		return nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read credentials file: %w", err)
	}
	secrets := map[string]Secret{}
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return fmt.Errorf("parse credentials file: %w", err)
	}
	f.secrets = secrets
	f.modTime = info.ModTime().UnixNano()
	return nil
}
