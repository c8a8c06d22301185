package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

const lockRetryDelay = 25 * time.Millisecond

// FileStore keeps the token in a YAML (or JSON) settings file shared between
// processes. Reads take a shared lock and writes an exclusive one on a
// sibling ".lock" file. Each call opens its own lock, so one store may be used
// from many goroutines.
type FileStore struct {
	path string
}

type settingsFile struct {
	Token Token `yaml:"token"`
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) newLock() *flock.Flock {
	return flock.New(s.path + ".lock")
}

// Path returns the settings file location.
func (s *FileStore) Path() string {
	return s.path
}

// FindToken reads the token. A missing file yields an empty token.
func (s *FileStore) FindToken(ctx context.Context) (Token, error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return Token{}, nil
	}
	lock := s.newLock()
	locked, err := lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return Token{}, fmt.Errorf("lock settings: %w", err)
	}
	if !locked {
		return Token{}, fmt.Errorf("lock settings: %s is busy", s.path)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Token{}, nil
		}
		return Token{}, fmt.Errorf("read settings: %w", err)
	}

	var file settingsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Token{}, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	return file.Token, nil
}

// Save replaces the stored token.
func (s *FileStore) Save(ctx context.Context, token Token) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	lock := s.newLock()
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock settings: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock settings: %s is busy", s.path)
	}
	defer lock.Unlock()

	data, err := yaml.Marshal(settingsFile{Token: token})
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
