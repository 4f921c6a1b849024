package authn

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gematik/zero-gate/pkg/identity"
	"github.com/gematik/zero-gate/pkg/session"
)

// Session keys.
const (
	CSRFStateKey    = "oauth.csrf-state"
	CodeVerifierKey = "oauth.pkce-verifier"
	NextURLKey      = "auth.next-url"
	UserIDKey       = "auth.user-id"
	AuthHashKey     = "auth.hash"
)

// AuthSession combines the backend with the session of one request.
type AuthSession struct {
	Backend *Backend
	Session *session.Handle
	user    *identity.User
	loaded  bool
	dirty   bool
}

func NewAuthSession(backend *Backend, handle *session.Handle) *AuthSession {
	return &AuthSession{
		Backend: backend,
		Session: handle,
	}
}

// User returns the authenticated user or nil for an anonymous session. A
// binding to a user that no longer exists, or whose credentials changed since
// the binding was made, is dropped.
func (a *AuthSession) User(ctx context.Context) (*identity.User, error) {
	if a.loaded {
		return a.user, nil
	}

	rawID, ok := a.Session.Get(UserIDKey)
	if !ok {
		a.loaded = true
		return nil, nil
	}

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		slog.Warn("Dropping malformed user binding", "session_id", a.Session.ID())
		a.clearBinding()
		a.loaded = true
		return nil, nil
	}

	user, err := a.Backend.GetUser(ctx, id)
	if errors.Is(err, identity.ErrUserNotFound) {
		slog.Warn("Dropping binding to unknown user", "user_id", id)
		a.clearBinding()
		a.loaded = true
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	hash, _ := a.Session.Get(AuthHashKey)
	if subtle.ConstantTimeCompare([]byte(hash), []byte(user.AuthHash())) != 1 {
		slog.Info("Dropping outdated user binding", "user_id", id)
		a.clearBinding()
		a.loaded = true
		return nil, nil
	}

	a.user = user
	a.loaded = true
	return user, nil
}

// Authenticate runs the backend authentication for this session.
func (a *AuthSession) Authenticate(ctx context.Context, creds Credentials) (*identity.User, error) {
	return a.Backend.Authenticate(ctx, creds)
}

// Login binds user to the session under a new session id. The caller saves
// the session.
func (a *AuthSession) Login(ctx context.Context, user *identity.User) error {
	if err := a.Session.RenewID(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrSession, err)
	}
	a.Session.Insert(UserIDKey, strconv.FormatInt(user.ID, 10))
	a.Session.Insert(AuthHashKey, user.AuthHash())
	a.user = user
	a.loaded = true
	a.dirty = true
	return nil
}

// Logout removes the user binding and invalidates the session. Logging out an
// anonymous session succeeds.
func (a *AuthSession) Logout() error {
	a.clearBinding()
	a.user = nil
	a.loaded = true
	if err := a.Session.Invalidate(); err != nil {
		return fmt.Errorf("%w: %w", ErrSession, err)
	}
	a.dirty = false
	return nil
}

// SaveIfChanged persists changes made by User or Login.
func (a *AuthSession) SaveIfChanged() error {
	if !a.dirty {
		return nil
	}
	if err := a.Session.Save(); err != nil {
		return fmt.Errorf("%w: %w", ErrSession, err)
	}
	a.dirty = false
	return nil
}

// Save persists the session.
func (a *AuthSession) Save() error {
	if err := a.Session.Save(); err != nil {
		return fmt.Errorf("%w: %w", ErrSession, err)
	}
	a.dirty = false
	return nil
}

func (a *AuthSession) clearBinding() {
	a.Session.Remove(UserIDKey)
	a.Session.Remove(AuthHashKey)
	a.dirty = true
}
