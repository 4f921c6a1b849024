package web_test

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gematik/zero-gate/pkg/authn"
	"github.com/gematik/zero-gate/pkg/authn/authntest"
	"github.com/gematik/zero-gate/pkg/authz"
	"github.com/gematik/zero-gate/pkg/config"
	"github.com/gematik/zero-gate/pkg/identity"
	"github.com/gematik/zero-gate/pkg/provider"
	"github.com/gematik/zero-gate/pkg/session"
	"github.com/gematik/zero-gate/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateway struct {
	fake     *authntest.Provider
	store    *identity.MockStore
	sessions *session.MemoryBackend
	server   *httptest.Server
	client   *http.Client
}

func newGateway(t *testing.T, checker authz.Checker) *gateway {
	t.Helper()
	fake := authntest.NewProvider()
	t.Cleanup(fake.Close)

	var handler http.Handler
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	registry, err := provider.NewRegistry(
		fake.Provider("github", server.URL+provider.CallbackPath("/", "github")),
	)
	require.NoError(t, err)

	store := identity.NewMockStore()
	backend, err := authn.NewBackend(registry, store, authn.WithHTTPClient(fake.Server.Client()))
	require.NoError(t, err)

	h, err := web.NewHandler(backend, config.DefaultPages(), checker)
	require.NoError(t, err)

	sessions := session.NewMemoryBackend()
	handler = h.NewEcho(session.NewStore(sessions, time.Hour, []byte("0123456789abcdef0123456789abcdef")))

	return &gateway{
		fake:     fake,
		store:    store,
		sessions: sessions,
		server:   server,
		client:   newClient(t),
	}
}

func newClient(t *testing.T) *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (g *gateway) get(t *testing.T, target string) *http.Response {
	t.Helper()
	if strings.HasPrefix(target, "/") {
		target = g.server.URL + target
	}
	resp, err := g.client.Get(target)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

// startLogin posts the login form and returns the authorization URL the
// gateway redirected to.
func (g *gateway) startLogin(t *testing.T, providerName, next string) *url.URL {
	t.Helper()
	resp, err := g.client.PostForm(g.server.URL+"/login/"+providerName, url.Values{"next": {next}})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	authURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return authURL
}

// consent plays the user at the identity provider and returns the callback
// URL the provider redirected back to.
func (g *gateway) consent(t *testing.T, authURL *url.URL, login string) *url.URL {
	t.Helper()
	q := authURL.Query()
	q.Set("login", login)
	authURL.RawQuery = q.Encode()

	resp := g.get(t, authURL.String())
	require.Equal(t, http.StatusFound, resp.StatusCode)
	callback, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return callback
}

func TestLoginFlow(t *testing.T) {
	g := newGateway(t, nil)

	resp := g.get(t, "/protected?tab=1")
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/login?next=%2Fprotected%3Ftab%3D1", resp.Header.Get("Location"))

	authURL := g.startLogin(t, "github", "/protected?tab=1")
	assert.Equal(t, g.fake.Server.URL+"/authorize", authURL.Scheme+"://"+authURL.Host+authURL.Path)
	assert.NotEmpty(t, authURL.Query().Get("state"))

	callback := g.consent(t, authURL, "alice")
	assert.Equal(t, "/oauth/github/callback", callback.Path)

	resp = g.get(t, callback.String())
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/protected?tab=1", resp.Header.Get("Location"))

	resp = g.get(t, "/protected?tab=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "Hello alice")
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	count, err := g.store.CountUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// the callback cannot be replayed
	resp = g.get(t, callback.String())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginRedirectsHomeWithoutNext(t *testing.T) {
	g := newGateway(t, nil)

	for _, next := range []string{"", "https://evil.example/", "//evil.example/path", "protected"} {
		callback := g.consent(t, g.startLogin(t, "github", next), "alice")
		resp := g.get(t, callback.String())
		require.Equal(t, http.StatusFound, resp.StatusCode, next)
		assert.Equal(t, "/protected", resp.Header.Get("Location"), next)
	}
}

func TestCallbackStateMismatch(t *testing.T) {
	g := newGateway(t, nil)

	callback := g.consent(t, g.startLogin(t, "github", "/protected"), "alice")
	q := callback.Query()
	q.Set("state", "forged")
	callback.RawQuery = q.Encode()

	resp := g.get(t, callback.String())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body(t, resp), "invalid state")

	assert.Zero(t, g.fake.TokenCalls())
	count, _ := g.store.CountUsers(context.Background())
	assert.Zero(t, count)

	resp = g.get(t, "/protected")
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
}

func TestCallbackMissingState(t *testing.T) {
	g := newGateway(t, nil)

	resp := g.get(t, "/oauth/github/callback?code=abc&state=xyz")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, g.fake.Calls())
}

func TestCallbackProviderError(t *testing.T) {
	g := newGateway(t, nil)
	g.startLogin(t, "github", "")

	resp := g.get(t, "/oauth/github/callback?error=access_denied&error_description=user+cancelled")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body(t, resp), "user cancelled")
	assert.Zero(t, g.fake.Calls())
}

func TestCallbackTokenExchangeFailed(t *testing.T) {
	g := newGateway(t, nil)

	authURL := g.startLogin(t, "github", "")
	resp := g.get(t, "/oauth/github/callback?code=unknown&state="+url.QueryEscape(authURL.Query().Get("state")))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotContains(t, body(t, resp), authntest.ClientSecret)
}

func TestUnknownProvider(t *testing.T) {
	g := newGateway(t, nil)

	assert.Equal(t, http.StatusNotFound, g.get(t, "/login/gitlab").StatusCode)
	assert.Equal(t, http.StatusNotFound, g.get(t, "/oauth/gitlab/callback?code=a&state=b").StatusCode)

	resp, err := g.client.PostForm(g.server.URL+"/login/gitlab", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestErrorAsJSON(t *testing.T) {
	g := newGateway(t, nil)

	req, err := http.NewRequest(http.MethodGet, g.server.URL+"/login/gitlab", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, err := g.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"not_found","error_description":"unknown identity provider"}`, body(t, resp))
}

func TestLogout(t *testing.T) {
	g := newGateway(t, nil)

	callback := g.consent(t, g.startLogin(t, "github", ""), "alice")
	require.Equal(t, http.StatusFound, g.get(t, callback.String()).StatusCode)
	require.Equal(t, http.StatusOK, g.get(t, "/protected").StatusCode)

	resp := g.get(t, "/logout")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Zero(t, g.sessions.Len())

	resp = g.get(t, "/protected")
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)

	assert.Equal(t, http.StatusFound, g.get(t, "/logout").StatusCode)
}

func TestChooser(t *testing.T) {
	g := newGateway(t, nil)

	resp := g.get(t, "/login?next=%2Fprotected")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := body(t, resp)
	assert.Contains(t, page, "Fake github")
	assert.Contains(t, page, "/login/github?next=%2Fprotected")

	resp = g.get(t, "/login/github?next=%2Fprotected")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = body(t, resp)
	assert.Contains(t, page, `action="/login/github"`)
	assert.Contains(t, page, `value="/protected"`)
}

func TestAdminPage(t *testing.T) {
	checker := authz.NewPolicyChecker(authz.Policy{Rules: []authz.Rule{
		{Role: identity.RoleAdmin, Actions: []string{"*"}, Resources: []string{"*"}},
	}})
	g := newGateway(t, checker)

	callback := g.consent(t, g.startLogin(t, "github", ""), "alice")
	require.Equal(t, http.StatusFound, g.get(t, callback.String()).StatusCode)

	assert.Equal(t, http.StatusForbidden, g.get(t, "/protected/admin").StatusCode)

	require.NoError(t, g.store.SetRole(context.Background(), "alice", identity.RoleAdmin))
	resp := g.get(t, "/protected/admin")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "1 registered users")
}

func TestHomePage(t *testing.T) {
	g := newGateway(t, nil)

	resp := g.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body(t, resp), "Sign in")

	resp = g.get(t, "/error?error=access_denied&error_description=%3Cscript%3E")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := body(t, resp)
	assert.Contains(t, page, "access_denied")
	assert.NotContains(t, page, "<script>")
}
