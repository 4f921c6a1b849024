package authn

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gematik/zero-gate/pkg/identity"
	"github.com/gematik/zero-gate/pkg/session"
	"github.com/labstack/echo/v4"
)

const userContextKey = "authn.user"

// HandlerFunc is an echo handler that receives the auth session of the request.
type HandlerFunc func(c echo.Context, as *AuthSession) error

// Handle opens the session of the request and passes it to h.
func (b *Backend) Handle(h HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		handle, err := session.FromEcho(c, b.sessionName)
		if err != nil {
			slog.Error("Unable to open session", "error", err, "path", c.Request().URL.Path)
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(fmt.Errorf("%w: %w", ErrSession, err))
		}
		return h(c, NewAuthSession(b, handle))
	}
}

// RequireLogin only forwards requests of authenticated sessions. Anonymous
// requests are redirected to loginPath with the original request URI in the
// next parameter.
func (b *Backend) RequireLogin(loginPath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return b.Handle(func(c echo.Context, as *AuthSession) error {
			ctx := c.Request().Context()
			user, err := as.User(ctx)
			if err == nil {
				err = as.SaveIfChanged()
			}
			if err != nil {
				slog.Error("Unable to resolve session user", "error", err, "path", c.Request().URL.Path)
				return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
			}

			if user == nil {
				target := loginPath + "?next=" + url.QueryEscape(requestURI(c.Request()))
				slog.Debug("Redirecting anonymous request to login", "target", target)
				return c.Redirect(http.StatusTemporaryRedirect, target)
			}

			c.Set(userContextKey, user)
			return next(c)
		})
	}
}

// CurrentUser returns the user set by RequireLogin.
func CurrentUser(c echo.Context) *identity.User {
	user, _ := c.Get(userContextKey).(*identity.User)
	return user
}

func requestURI(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}
