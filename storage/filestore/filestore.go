// Package filestore persists key-value pairs in a single JSON file, optionally sealed
// with XChaCha20-Poly1305 under an Argon2id-derived key.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	fileVersion = 1
	saltLength  = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var _ storage.Storage = (*Store)(nil)

// envelope is the on-disk format. Exactly one of Values or Sealed is set.
type envelope struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values,omitempty"`
	Salt    []byte            `json:"salt,omitempty"`
	Nonce   []byte            `json:"nonce,omitempty"`
	Sealed  []byte            `json:"sealed,omitempty"`
}

// Store is a file-backed storage.Storage. Every mutation rewrites the file atomically.
type Store struct {
	path   string
	secret string
	salt   []byte
	key    []byte

	mu     sync.RWMutex
	values map[string]string
}

type Option func(*Store)

// WithSecret enables at-rest encryption. The same secret must be supplied on every open.
func WithSecret(secret string) Option {
	return func(s *Store) {
		s.secret = secret
	}
}

// New opens (or prepares to create) the store at path. An unreadable or undecryptable
// file is discarded: the store starts empty and the next write replaces it.
func New(path string, options ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("[filestore New] path is required")
	}

	s := &Store{
		path:   path,
		values: make(map[string]string),
	}
	for _, opt := range options {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, apperrors.Wrapf(err, "[filestore New] create folder")
	}

	values, err := s.load()
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Discarding unreadable credential file")
		s.salt, s.key = nil, nil
	} else {
		s.values = values
	}
	return s, nil
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, apperrors.ErrEmptyKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.MultiSet(ctx, []storage.KV{{Key: key, Value: value}})
}

func (s *Store) MultiSet(_ context.Context, pairs []storage.KV) error {
	for _, p := range pairs {
		if p.Key == "" {
			return apperrors.ErrEmptyKey
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.copyValues()
	for _, p := range pairs {
		next[p.Key] = p.Value
	}
	return s.commit(next)
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return s.MultiRemove(ctx, []string{key})
}

func (s *Store) MultiRemove(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.copyValues()
	for _, k := range keys {
		delete(next, k)
	}
	return s.commit(next)
}

func (s *Store) copyValues() map[string]string {
	next := make(map[string]string, len(s.values))
	for k, v := range s.values {
		next[k] = v
	}
	return next
}

// commit writes values to disk and only then swaps them in memory.
func (s *Store) commit(values map[string]string) error {
	env, err := s.seal(values)
	if err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return apperrors.Wrapf(err, "[filestore] marshal")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return apperrors.Wrapf(err, "[filestore] create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.Wrapf(err, "[filestore] write")
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return apperrors.Wrapf(err, "[filestore] chmod")
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrapf(err, "[filestore] close")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return apperrors.Wrapf(err, "[filestore] rename")
	}

	s.values = values
	return nil
}

func (s *Store) seal(values map[string]string) (*envelope, error) {
	if s.secret == "" {
		return &envelope{Version: fileVersion, Values: values}, nil
	}

	if s.key == nil {
		salt := make([]byte, saltLength)
		if _, err := rand.Read(salt); err != nil {
			return nil, apperrors.Wrapf(err, "[filestore] generate salt")
		}
		s.salt, s.key = salt, deriveKey(s.secret, salt)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[filestore] cipher")
	}

	plaintext, err := json.Marshal(values)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[filestore] marshal values")
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, apperrors.Wrapf(err, "[filestore] generate nonce")
	}

	return &envelope{
		Version: fileVersion,
		Salt:    s.salt,
		Nonce:   nonce,
		Sealed:  aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

func (s *Store) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, "[filestore] read")
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, apperrors.Wrapf(err, "[filestore] parse")
	}
	if env.Version != fileVersion {
		return nil, fmt.Errorf("[filestore] unsupported file version %d", env.Version)
	}

	if env.Sealed == nil {
		if s.secret != "" && len(env.Values) > 0 {
			return nil, fmt.Errorf("[filestore] expected an encrypted file: %w", apperrors.ErrDecryptFailed)
		}
		if env.Values == nil {
			env.Values = make(map[string]string)
		}
		return env.Values, nil
	}

	if s.secret == "" {
		return nil, fmt.Errorf("[filestore] file is encrypted but no secret is configured: %w", apperrors.ErrDecryptFailed)
	}

	key := deriveKey(s.secret, env.Salt)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[filestore] cipher")
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("[filestore] bad nonce: %w", apperrors.ErrDecryptFailed)
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("[filestore] open: %w", apperrors.ErrDecryptFailed)
	}

	values := make(map[string]string)
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return nil, apperrors.Wrapf(err, "[filestore] parse sealed values")
	}

	s.salt, s.key = env.Salt, key
	return values, nil
}

func deriveKey(secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}
