package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gofrs/flock"
)

func TestStaticStore(t *testing.T) {
	token, err := NewStaticStore("secret").FindToken(context.Background())
	if err != nil {
		t.Fatalf("FindToken() error = %v", err)
	}
	if token.SecretID != "secret" {
		t.Errorf("SecretID = %q, want secret", token.SecretID)
	}
}

func TestEnvStore(t *testing.T) {
	t.Setenv("LEASH_TEST_TOKEN", "  from-env \n")
	token, err := NewEnvStore("LEASH_TEST_TOKEN").FindToken(context.Background())
	if err != nil {
		t.Fatalf("FindToken() error = %v", err)
	}
	if token.SecretID != "from-env" {
		t.Errorf("SecretID = %q, want from-env", token.SecretID)
	}
}

type errStore struct{}

func (errStore) FindToken(context.Context) (Token, error) {
	return Token{}, errors.New("store offline")
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	t.Run("first non-empty wins", func(t *testing.T) {
		chain := Chain{NewStaticStore(""), nil, NewStaticStore("second"), NewStaticStore("third")}
		token, err := chain.FindToken(ctx)
		if err != nil {
			t.Fatalf("FindToken() error = %v", err)
		}
		if token.SecretID != "second" {
			t.Errorf("SecretID = %q, want second", token.SecretID)
		}
	})

	t.Run("empty chain", func(t *testing.T) {
		token, err := Chain{}.FindToken(ctx)
		if err != nil || token.SecretID != "" {
			t.Errorf("FindToken() = %+v, %v; want empty, nil", token, err)
		}
	})

	t.Run("errors stop the chain", func(t *testing.T) {
		_, err := Chain{errStore{}, NewStaticStore("never")}.FindToken(ctx)
		if err == nil {
			t.Error("FindToken() error = nil, want error")
		}
	})
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	store := NewFileStore(path)

	token, err := store.FindToken(ctx)
	if err != nil {
		t.Fatalf("FindToken() on missing file error = %v", err)
	}
	if token != (Token{}) {
		t.Errorf("FindToken() on missing file = %+v, want empty", token)
	}

	want := Token{AccessorID: "acc", SecretID: "sec"}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.FindToken(ctx)
	if err != nil {
		t.Fatalf("FindToken() error = %v", err)
	}
	if got != want {
		t.Errorf("FindToken() = %+v, want %+v", got, want)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("settings mode = %o, want 600", perm)
	}
}

func TestFileStoreReadsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"token": {"SecretID": "json-secret"}}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	token, err := NewFileStore(path).FindToken(context.Background())
	if err != nil {
		t.Fatalf("FindToken() error = %v", err)
	}
	if token.SecretID != "json-secret" {
		t.Errorf("SecretID = %q, want json-secret", token.SecretID)
	}
}

func TestFileStoreInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("token: [unclosed"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := NewFileStore(path).FindToken(context.Background()); err == nil {
		t.Error("FindToken() error = nil, want parse error")
	}
}

func TestFileStoreBusyLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("token: {SecretID: held}"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	holder := flock.New(path + ".lock")
	if err := holder.Lock(); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer holder.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFileStore(path).FindToken(ctx); err == nil {
		t.Error("FindToken() with held lock and cancelled ctx error = nil, want error")
	}
}

func TestFileStoreConcurrentReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	store := NewFileStore(path)
	ctx := context.Background()
	if err := store.Save(ctx, Token{SecretID: "shared"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	const readers = 16
	var wg sync.WaitGroup
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				token, err := store.FindToken(ctx)
				if err != nil {
					errs <- err
					return
				}
				if token.SecretID != "shared" {
					errs <- fmt.Errorf("SecretID = %q, want shared", token.SecretID)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("FindToken() concurrent read: %v", err)
	}
}

func TestFileStoreSaveWaitsForReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	store := NewFileStore(path)
	ctx := context.Background()
	if err := store.Save(ctx, Token{SecretID: "old"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.FindToken(ctx); err != nil {
				t.Errorf("FindToken() error = %v", err)
			}
		}()
	}
	if err := store.Save(ctx, Token{SecretID: "new"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	wg.Wait()

	got, err := store.FindToken(ctx)
	if err != nil {
		t.Fatalf("FindToken() error = %v", err)
	}
	if got.SecretID != "new" {
		t.Errorf("SecretID = %q, want new", got.SecretID)
	}
}
