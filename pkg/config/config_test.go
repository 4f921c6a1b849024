package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("TEST_SESSION_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := LoadConfigFile("testdata/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "testdata", cfg.BaseDir)
	assert.Equal(t, slog.LevelDebug, cfg.Logger.Level())
	assert.Equal(t, "0.0.0.0:8080", cfg.Website.HTTPAddress())
	assert.Equal(t, "0.0.0.0:8443", cfg.Website.HTTPSAddress())
	assert.Equal(t, filepath.Join("testdata", "certs", "cert.pem"), cfg.AbsPath(cfg.Website.BindSSLConfig.CertPath))
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Session.Secret.Value())
	assert.Equal(t, "*****", fmt.Sprint(cfg.Session.Secret))

	// defaults survive partial documents
	assert.Equal(t, 24*time.Hour, cfg.Session.InactivityTimeout)
	assert.Equal(t, 10*time.Second, cfg.Website.ProviderTimeout)
	assert.Equal(t, "login", cfg.Website.Pages.PublicLogin)

	// deprecated aliases
	assert.Equal(t, "/app", cfg.Website.Pages.Root)
	require.Len(t, cfg.OAuthClients, 2)
	assert.Equal(t, "https://api.github.com/user", cfg.OAuthClients["github"].UserinfoURI)
	assert.True(t, cfg.OAuthClients["google"].PKCE)
	assert.Equal(t, []string{filepath.Join("testdata", "policy.yaml")}, cfg.PolicyFilePaths())
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("ZERO_GATE_WEBSITE_PUBLIC_HOSTNAME", "override.example.com")
	t.Setenv("ZERO_GATE_SESSION_SAME_SITE_POLICY", "strict")
	t.Setenv("ZERO_GATE_DATABASE_PATH", "/var/lib/zero-gate/users.db")

	cfg, err := Parse([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "override.example.com", cfg.Website.PublicHostname)
	assert.Equal(t, "strict", cfg.Session.SameSitePolicy)
	assert.Equal(t, "/var/lib/zero-gate/users.db", cfg.Database.Path)
}

func TestParseAliasDoesNotOverrideCanonicalKey(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig + `
oso_policy_files: [old.yaml]
policy_files: [new.yaml]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"new.yaml"}, cfg.PolicyFiles)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no providers", "website: {public_hostname: localhost}"},
		{"bad verbosity", minimalConfig + "logger: {verbosity: loud}"},
		{"bad same site", minimalConfig + "session: {same_site_policy: sometimes}"},
		{"bad token uri", `
oauth_clients:
  github: {display_name: GitHub, client_id: id, auth_uri: "https://a.example", token_uri: "not a url", userinfo_uri: "https://u.example"}
`},
		{"no listeners", minimalConfig + "website: {http_enabled: false}"},
		{"bad version", minimalConfig + "version: 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestPagesWithRoot(t *testing.T) {
	pages := Pages{
		Root:          "/api",
		PublicHome:    "home",
		PublicError:   "/error",
		PublicLogin:   "login",
		ProtectedHome: "protected",
	}.WithRoot()
	assert.Equal(t, "/api/", pages.Root)
	assert.Equal(t, "/api/home", pages.PublicHome)
	assert.Equal(t, "/api/error", pages.PublicError)
	assert.Equal(t, "/api/login", pages.PublicLogin)
	assert.Equal(t, "/api/protected", pages.ProtectedHome)

	pages = Pages{
		Root:          "/api/",
		PublicHome:    "home",
		PublicError:   "error",
		PublicLogin:   "login",
		ProtectedHome: "protected",
	}.WithRoot()
	assert.Equal(t, "/api/home", pages.PublicHome)
	assert.Equal(t, "/api/protected", pages.ProtectedHome)

	pages = DefaultPages().WithRoot()
	assert.Equal(t, "/", pages.PublicHome)
	assert.Equal(t, "/login", pages.PublicLogin)
	assert.Equal(t, "/error", pages.PublicError)
}

func TestPublicServerURL(t *testing.T) {
	tests := []struct {
		website Website
		want    string
	}{
		{Website{PublicHostname: "localhost", PublicPorts: Ports{HTTP: 80, HTTPS: 443}}, "http://localhost"},
		{Website{PublicHostname: "localhost", PublicPorts: Ports{HTTP: 8080, HTTPS: 443}}, "http://localhost:8080"},
		{Website{PublicHostname: "example.com", PublicPorts: Ports{HTTP: 80, HTTPS: 443}, PublicSSLEnabled: true}, "https://example.com"},
		{Website{PublicHostname: "example.com", PublicPorts: Ports{HTTP: 80, HTTPS: 8443}, PublicSSLEnabled: true}, "https://example.com:8443"},
		{Website{PublicHostname: "::1", PublicPorts: Ports{HTTP: 8080}}, "http://[::1]:8080"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.website.PublicServerURL())
	}

	w := Website{PublicHostname: "example.com", PublicPorts: Ports{HTTP: 80}}
	assert.Equal(t, "http://example.com/oauth/github/callback", w.FormatPublicServerURL("/oauth/github/callback"))
}

const minimalConfig = `
oauth_clients:
  github:
    display_name: GitHub
    client_id: id
    auth_uri: https://github.com/login/oauth/authorize
    token_uri: https://github.com/login/oauth/access_token
    userinfo_uri: https://api.github.com/user
`
