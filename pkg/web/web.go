package web

import (
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gematik/zero-gate/pkg/authn"
	"github.com/gematik/zero-gate/pkg/authz"
	"github.com/gematik/zero-gate/pkg/config"
	"github.com/gematik/zero-gate/pkg/oauth2"
	"github.com/gematik/zero-gate/pkg/provider"
	"github.com/gorilla/sessions"
	echosession "github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const invalidStateMessage = "Login failed: invalid state. Please try again."

// RouteFunc mounts additional routes on the protected group.
type RouteFunc func(g *echo.Group)

// Handler serves the login, callback and logout flows and the pages around
// them.
type Handler struct {
	backend    *authn.Backend
	checker    authz.Checker
	pages      config.Pages
	logoutPath string
	templates  *Templates
}

// NewHandler creates the handler. pages are given relative to their root.
func NewHandler(backend *authn.Backend, pages config.Pages, checker authz.Checker) (*Handler, error) {
	templates, err := ParseTemplates()
	if err != nil {
		return nil, err
	}
	if checker == nil {
		checker = authz.NoopChecker{}
	}
	pages = pages.WithRoot()
	return &Handler{
		backend:    backend,
		checker:    checker,
		pages:      pages,
		logoutPath: path.Join(pages.Root, "logout"),
		templates:  templates,
	}, nil
}

func (h *Handler) Pages() config.Pages {
	return h.pages
}

// NewEcho returns an echo instance with the gateway middleware stack and all
// routes mounted.
func (h *Handler) NewEcho(store sessions.Store, protected ...RouteFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = h.templates
	e.HTTPErrorHandler = h.HTTPErrorHandler

	e.Use(
		middleware.Recover(),
		RequestID(),
		AccessLog(),
		SecurityHeaders,
		echosession.Middleware(store),
	)
	h.MountRoutes(e, protected...)
	return e
}

func (h *Handler) MountRoutes(e *echo.Echo, protected ...RouteFunc) {
	b := h.backend

	e.GET(h.pages.PublicHome, b.Handle(h.home))
	e.GET(h.pages.PublicError, h.showError)
	e.GET(h.pages.PublicLogin, h.chooser)
	e.GET(h.pages.PublicLogin+"/:provider", h.loginPrompt)
	e.POST(h.pages.PublicLogin+"/:provider", b.Handle(h.login))
	e.GET(provider.CallbackPath(h.pages.Root, ":provider"), b.Handle(h.callback))
	e.GET(h.logoutPath, b.Handle(h.logout))

	g := e.Group(h.pages.ProtectedHome, b.RequireLogin(h.pages.PublicLogin))
	g.GET("", h.protectedHome)
	g.GET("/admin", h.admin)
	for _, mount := range protected {
		mount(g)
	}
}

func (h *Handler) pageData(c echo.Context, data map[string]any) map[string]any {
	if data == nil {
		data = make(map[string]any)
	}
	data["pages"] = h.pages
	data["logoutPath"] = h.logoutPath
	if _, ok := data["user"]; !ok {
		if user := authn.CurrentUser(c); user != nil {
			data["user"] = user
		}
	}
	return data
}

func (h *Handler) home(c echo.Context, as *authn.AuthSession) error {
	user, err := as.User(c.Request().Context())
	if err != nil {
		return internalError(err)
	}
	if err := as.SaveIfChanged(); err != nil {
		return internalError(err)
	}
	data := map[string]any{}
	if user != nil {
		data["user"] = user
	}
	return c.Render(http.StatusOK, "home.html", h.pageData(c, data))
}

func (h *Handler) showError(c echo.Context) error {
	return c.Render(http.StatusOK, "error.html", h.pageData(c, map[string]any{
		"error": oauth2.Error{
			Code:        c.QueryParam("error"),
			Description: c.QueryParam("error_description"),
		},
	}))
}

type providerLink struct {
	Name        string
	DisplayName string
	LoginURL    string
}

func (h *Handler) providerLinks(next string) []providerLink {
	providers := h.backend.Registry().Providers()
	links := make([]providerLink, 0, len(providers))
	for _, p := range providers {
		links = append(links, providerLink{
			Name:        p.Name,
			DisplayName: p.DisplayName,
			LoginURL:    h.loginURL(p.Name, next),
		})
	}
	return links
}

func (h *Handler) loginURL(name, next string) string {
	u := h.pages.PublicLogin + "/" + url.PathEscape(name)
	if next != "" {
		u += "?next=" + url.QueryEscape(next)
	}
	return u
}

func (h *Handler) renderChooser(c echo.Context, status int, next, message string) error {
	return c.Render(status, "providers.html", h.pageData(c, map[string]any{
		"providers": h.providerLinks(next),
		"message":   message,
	}))
}

func (h *Handler) chooser(c echo.Context) error {
	return h.renderChooser(c, http.StatusOK, safeNext(c.QueryParam("next")), "")
}

func (h *Handler) loginPrompt(c echo.Context) error {
	p, err := h.backend.Registry().Get(c.Param("provider"))
	if err != nil {
		return authError(err)
	}
	return c.Render(http.StatusOK, "login.html", h.pageData(c, map[string]any{
		"provider": p,
		"action":   h.loginURL(p.Name, ""),
		"next":     safeNext(c.QueryParam("next")),
	}))
}

// login starts the authorization code flow. The CSRF state, the PKCE verifier
// and the page to return to are kept in the session until the callback.
func (h *Handler) login(c echo.Context, as *authn.AuthSession) error {
	name := c.Param("provider")
	req, err := h.backend.AuthorizeURL(name)
	if err != nil {
		return authError(err)
	}

	s := as.Session
	s.Insert(authn.CSRFStateKey, req.State)
	if req.CodeVerifier != "" {
		s.Insert(authn.CodeVerifierKey, req.CodeVerifier)
	} else {
		s.Remove(authn.CodeVerifierKey)
	}
	if next := safeNext(c.FormValue("next")); next != "" {
		s.Insert(authn.NextURLKey, next)
	} else {
		s.Remove(authn.NextURLKey)
	}
	if err := as.Save(); err != nil {
		return internalError(err)
	}

	slog.Debug("Redirecting to identity provider", "provider", name, "session_id", s.ID())
	return c.Redirect(http.StatusSeeOther, req.URL)
}

func (h *Handler) callback(c echo.Context, as *authn.AuthSession) error {
	ctx := c.Request().Context()
	name := c.Param("provider")
	if _, err := h.backend.Registry().Get(name); err != nil {
		return authError(err)
	}

	s := as.Session
	stored, hasState := s.Remove(authn.CSRFStateKey)
	verifier, _ := s.Remove(authn.CodeVerifierKey)

	if code := c.QueryParam("error"); code != "" {
		slog.Info("Identity provider returned an error", "provider", name, "error", code)
		if hasState {
			h.saveQuietly(as)
		}
		return echo.NewHTTPError(http.StatusUnauthorized, &oauth2.Error{
			Code:        code,
			Description: c.QueryParam("error_description"),
		})
	}

	if !hasState {
		return authError(authn.ErrMissingCSRFState)
	}

	user, err := as.Authenticate(ctx, authn.Credentials{
		Code:     c.QueryParam("code"),
		Provider: name,
		CSRF: &authn.CSRFPair{
			Old: stored,
			New: c.QueryParam("state"),
		},
		CodeVerifier: verifier,
	})
	if err != nil {
		h.saveQuietly(as)
		return authError(err)
	}
	if user == nil {
		h.saveQuietly(as)
		next, _ := s.Get(authn.NextURLKey)
		return h.renderChooser(c, http.StatusUnauthorized, next, invalidStateMessage)
	}

	if err := as.Login(ctx, user); err != nil {
		return internalError(err)
	}
	next, _ := s.Remove(authn.NextURLKey)
	if err := as.Save(); err != nil {
		return internalError(err)
	}

	target := safeNext(next)
	if target == "" {
		target = h.pages.ProtectedHome
	}
	return c.Redirect(http.StatusFound, target)
}

func (h *Handler) logout(c echo.Context, as *authn.AuthSession) error {
	if err := as.Logout(); err != nil {
		return internalError(err)
	}
	return c.Redirect(http.StatusFound, h.pages.PublicHome)
}

func (h *Handler) protectedHome(c echo.Context) error {
	return c.Render(http.StatusOK, "protected.html", h.pageData(c, nil))
}

func (h *Handler) admin(c echo.Context) error {
	user := authn.CurrentUser(c)
	if !h.checker.IsAllowed(user, "read", "admin") {
		return echo.NewHTTPError(http.StatusForbidden, &oauth2.Error{
			Code:        oauth2.ErrorCodeAccessDenied,
			Description: "administrators only",
		})
	}
	count, err := h.backend.CountUsers(c.Request().Context())
	if err != nil {
		return internalError(err)
	}
	return c.Render(http.StatusOK, "admin.html", h.pageData(c, map[string]any{
		"userCount": count,
	}))
}

// saveQuietly persists the removal of the one-time login state. A failure
// only means the stale state stays around until the next login.
func (h *Handler) saveQuietly(as *authn.AuthSession) {
	if err := as.Save(); err != nil {
		slog.Warn("Unable to save session", "error", err)
	}
}

func authError(err error) error {
	return echo.NewHTTPError(authn.HTTPStatus(err), authn.WireError(err)).SetInternal(err)
}

func internalError(err error) error {
	return echo.NewHTTPError(http.StatusInternalServerError, authn.WireError(err)).SetInternal(err)
}

// safeNext returns next if it is a path on this site, "" otherwise.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return next
}
