package authstore

import (
	"context"
	"encoding/json"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/storage"
	"github.com/pkg/errors"
)

// persistSession writes the three credential keys in one MultiSet.
func (s *Store) persistSession(ctx context.Context, sess *sessions.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "[persistSession] encode")
	}
	return errors.Wrap(s.storage.MultiSet(ctx, []storage.KV{
		{Key: s.keys.AccessToken, Value: sess.AccessToken},
		{Key: s.keys.RefreshToken, Value: sess.RefreshToken},
		{Key: s.keys.Session, Value: string(data)},
	}), "[persistSession] write")
}

// loadPersistedSession returns nil, nil when nothing is stored. A record that does not
// decode into a complete session is reported as ErrCorruptSession.
func (s *Store) loadPersistedSession(ctx context.Context) (*sessions.Session, error) {
	raw, ok, err := s.storage.Get(ctx, s.keys.Session)
	if err != nil {
		return nil, errors.Wrap(err, "[loadPersistedSession] read")
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var sess sessions.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrCorruptSession, "[loadPersistedSession] %v", err)
	}
	if !sess.Complete() {
		return nil, apperrors.Wrapf(apperrors.ErrCorruptSession, "[loadPersistedSession] incomplete record")
	}
	return &sess, nil
}

func (s *Store) clearPersistedSession(ctx context.Context) error {
	return errors.Wrap(s.storage.MultiRemove(ctx, s.keys.All()), "[clearPersistedSession]")
}
