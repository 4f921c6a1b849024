package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gematik/zero-gate/pkg/config"
	"golang.org/x/oauth2"
)

var ErrProviderNotFound = errors.New("provider not found")

var DefaultScopes = []string{"openid", "profile", "email"}

// Provider holds the OAuth2 client parameters of one identity provider.
type Provider struct {
	Name         string
	DisplayName  string
	ClientID     string
	ClientSecret config.SecretString
	AuthURL      string
	TokenURL     string
	UserinfoURL  string
	RedirectURL  string
	Scopes       []string
	LoginField   string
	PKCE         bool
	Issuer       string
	JwksURI      string
}

// OAuth2Config returns the x/oauth2 configuration for this provider.
func (p *Provider) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret.Value(),
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.AuthURL,
			TokenURL: p.TokenURL,
		},
		RedirectURL: p.RedirectURL,
		Scopes:      p.Scopes,
	}
}

// VerifiesIDToken reports whether ID tokens issued by this provider must be verified.
func (p *Provider) VerifiesIDToken() bool {
	return p.Issuer != ""
}

// LoginFields returns the user-info fields that carry the login identifier, in
// order of preference.
func (p *Provider) LoginFields() []string {
	if p.LoginField != "" {
		return []string{p.LoginField}
	}
	switch p.Name {
	case "github":
		return []string{"login"}
	case "google":
		return []string{"email"}
	default:
		return []string{"login", "email", "username"}
	}
}

// Registry is an immutable set of providers keyed by name.
type Registry struct {
	providers map[string]*Provider
	names     []string
}

func NewRegistry(providers ...*Provider) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]*Provider, len(providers)),
	}
	for _, p := range providers {
		if p.Name == "" {
			return nil, fmt.Errorf("provider name is required")
		}
		if _, ok := r.providers[p.Name]; ok {
			return nil, fmt.Errorf("duplicate provider: %s", p.Name)
		}
		r.providers[p.Name] = p
		r.names = append(r.names, p.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// NewRegistryFromConfig builds the registry from configured OAuth clients.
// Redirect URLs default to <public server url>/oauth/<name>/callback.
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	providers := make([]*Provider, 0, len(cfg.OAuthClients))
	for name, c := range cfg.OAuthClients {
		redirectURL := c.RedirectURI
		if redirectURL == "" {
			redirectURL = cfg.Website.FormatPublicServerURL(CallbackPath(cfg.Website.Pages.Root, name))
		}
		scopes := c.Scopes
		if len(scopes) == 0 {
			scopes = DefaultScopes
		}
		providers = append(providers, &Provider{
			Name:         name,
			DisplayName:  c.DisplayName,
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			AuthURL:      c.AuthURI,
			TokenURL:     c.TokenURI,
			UserinfoURL:  c.UserinfoURI,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			LoginField:   c.LoginField,
			PKCE:         c.PKCE,
			Issuer:       c.Issuer,
			JwksURI:      c.JwksURI,
		})
	}
	return NewRegistry(providers...)
}

// CallbackPath returns the path of the callback route for a provider below root.
func CallbackPath(root, name string) string {
	return strings.TrimRight(root, "/") + "/oauth/" + name + "/callback"
}

func (r *Registry) Get(name string) (*Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}
	return p, nil
}

// Names returns the provider names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Providers returns all providers sorted by name.
func (r *Registry) Providers() []*Provider {
	list := make([]*Provider, 0, len(r.names))
	for _, name := range r.names {
		list = append(list, r.providers[name])
	}
	return list
}
