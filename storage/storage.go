// Package storage defines the durable key-value boundary used to persist credentials.
package storage

import "context"

// KV is a single key/value pair for MultiSet.
type KV struct {
	Key   string
	Value string
}

// Storage is a durable string key-value store. Get reports ok=false for a missing key.
// Implementations must be safe for concurrent use.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	MultiSet(ctx context.Context, pairs []KV) error
	Remove(ctx context.Context, key string) error
	MultiRemove(ctx context.Context, keys []string) error
}

// Keys are the fixed storage keys of the persisted credential record.
type Keys struct {
	AccessToken  string
	RefreshToken string
	Session      string
}

// NewKeys builds the credential keys under prefix (e.g. "@forgeai/").
func NewKeys(prefix string) Keys {
	return Keys{
		AccessToken:  prefix + "auth_token",
		RefreshToken: prefix + "refresh_token",
		Session:      prefix + "session",
	}
}

// All returns every credential key, for MultiRemove.
func (k Keys) All() []string {
	return []string{k.AccessToken, k.RefreshToken, k.Session}
}
