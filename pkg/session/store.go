package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/segmentio/ksuid"
)

// Store is a gorilla sessions.Store that keeps values in a Backend. The
// cookie only carries the signed session id and lives as long as the browser
// session; inactivity expiry is enforced by the backend ttl, which every Load
// and Save extends.
type Store struct {
	Options *sessions.Options
	backend Backend
	codecs  []securecookie.Codec
	ttl     time.Duration
}

var _ sessions.Store = (*Store)(nil)

// NewStore creates a store. ttl is the inactivity timeout; keyPairs are
// passed to securecookie.CodecsFromPairs.
func NewStore(backend Backend, ttl time.Duration, keyPairs ...[]byte) *Store {
	return &Store{
		Options: &sessions.Options{
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
		backend: backend,
		codecs:  securecookie.CodecsFromPairs(keyPairs...),
		ttl:     ttl,
	}
}

func (s *Store) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New loads the session named by the request cookie. A missing, tampered or
// expired cookie yields a fresh session without error; backend failures are
// returned.
func (s *Store) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := *s.Options
	session.Options = &opts
	session.IsNew = true

	cookie, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}

	var id string
	if err := securecookie.DecodeMulti(name, cookie.Value, &id, s.codecs...); err != nil {
		return session, nil
	}

	values, err := s.backend.Load(r.Context(), id, s.ttl)
	if errors.Is(err, ErrNotFound) {
		return session, nil
	}
	if err != nil {
		return session, err
	}

	session.ID = id
	for k, v := range values {
		session.Values[k] = v
	}
	session.IsNew = false
	return session, nil
}

// Save writes the session to the backend and sets the cookie. A negative
// MaxAge deletes the session.
func (s *Store) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	if session.Options.MaxAge < 0 {
		if session.ID != "" {
			if err := s.backend.Delete(r.Context(), session.ID); err != nil {
				return err
			}
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		session.ID = ksuid.New().String()
	}

	values := make(map[string]string, len(session.Values))
	for k, v := range session.Values {
		key, ok := k.(string)
		if !ok {
			return fmt.Errorf("session key %v is not a string", k)
		}
		value, ok := v.(string)
		if !ok {
			return fmt.Errorf("session value for %s is not a string", key)
		}
		values[key] = value
	}

	if err := s.backend.Save(r.Context(), session.ID, values, s.ttl); err != nil {
		return err
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.codecs...)
	if err != nil {
		return fmt.Errorf("encode session cookie: %w", err)
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}
