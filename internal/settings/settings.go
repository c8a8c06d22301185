// Package settings resolves the ACL token attached to every request.
package settings

import (
	"context"
	"os"
	"strings"
)

// Token is the credential record returned by a store. An empty SecretID
// means no token is configured.
type Token struct {
	AccessorID string `yaml:"AccessorID,omitempty" json:"AccessorID,omitempty"`
	SecretID   string `yaml:"SecretID,omitempty" json:"SecretID,omitempty"`
}

// TokenStore looks up the current token.
type TokenStore interface {
	FindToken(ctx context.Context) (Token, error)
}

// StaticStore returns a pre-configured token without any I/O.
type StaticStore struct {
	token Token
}

// NewStaticStore creates a store that always returns secret.
func NewStaticStore(secret string) *StaticStore {
	return &StaticStore{token: Token{SecretID: secret}}
}

func (s *StaticStore) FindToken(ctx context.Context) (Token, error) {
	return s.token, nil
}

// EnvStore reads the secret from an environment variable on every lookup.
type EnvStore struct {
	name string
}

func NewEnvStore(name string) *EnvStore {
	return &EnvStore{name: name}
}

func (s *EnvStore) FindToken(ctx context.Context) (Token, error) {
	return Token{SecretID: strings.TrimSpace(os.Getenv(s.name))}, nil
}

// Chain consults stores in order and returns the first token with a secret.
type Chain []TokenStore

func (c Chain) FindToken(ctx context.Context) (Token, error) {
	for _, store := range c {
		if store == nil {
			continue
		}
		token, err := store.FindToken(ctx)
		if err != nil {
			return Token{}, err
		}
		if token.SecretID != "" {
			return token, nil
		}
	}
	return Token{}, nil
}
