package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
	echosession "github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
)

// Handle is the session of one request. Writes are only persisted by Save.
type Handle struct {
	session *sessions.Session
	r       *http.Request
	w       http.ResponseWriter
}

func NewHandle(s *sessions.Session, r *http.Request, w http.ResponseWriter) *Handle {
	return &Handle{session: s, r: r, w: w}
}

// FromEcho opens the named session from the store installed by the
// echo-contrib session middleware.
func FromEcho(c echo.Context, name string) (*Handle, error) {
	s, err := echosession.Get(name, c)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return NewHandle(s, c.Request(), c.Response()), nil
}

func (h *Handle) ID() string {
	return h.session.ID
}

func (h *Handle) IsNew() bool {
	return h.session.IsNew
}

func (h *Handle) Get(key string) (string, bool) {
	v, ok := h.session.Values[key].(string)
	return v, ok
}

func (h *Handle) Insert(key, value string) {
	h.session.Values[key] = value
}

// Remove deletes key and returns the previous value.
func (h *Handle) Remove(key string) (string, bool) {
	v, ok := h.Get(key)
	delete(h.session.Values, key)
	return v, ok
}

func (h *Handle) Save() error {
	if err := h.session.Save(h.r, h.w); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// RenewID deletes the server side entry of the session and makes the next
// Save issue a new session id. Values are kept.
func (h *Handle) RenewID(ctx context.Context) error {
	if h.session.ID == "" {
		return nil
	}
	if store, ok := h.session.Store().(*Store); ok {
		if err := store.backend.Delete(ctx, h.session.ID); err != nil {
			return fmt.Errorf("renew session id: %w", err)
		}
	}
	h.session.ID = ""
	h.session.IsNew = true
	return nil
}

// Invalidate drops all values, deletes the session on the server and expires
// the cookie.
func (h *Handle) Invalidate() error {
	for k := range h.session.Values {
		delete(h.session.Values, k)
	}
	h.session.Options.MaxAge = -1
	return h.Save()
}
