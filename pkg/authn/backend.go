package authn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gematik/zero-gate/pkg/identity"
	"github.com/gematik/zero-gate/pkg/oauth2"
	"github.com/gematik/zero-gate/pkg/oidc"
	"github.com/gematik/zero-gate/pkg/provider"
	"github.com/tidwall/gjson"
	xoauth2 "golang.org/x/oauth2"
)

const (
	DefaultSessionName     = "zero-gate-session"
	DefaultProviderTimeout = 10 * time.Second
	maxUserinfoSize        = 1 << 20
)

// Backend implements the OAuth2 authorization code flow against the
// registered providers and resolves the resulting identities to users.
type Backend struct {
	ctx         context.Context
	registry    *provider.Registry
	store       identity.Store
	httpClient  *http.Client
	timeout     time.Duration
	verifier    *oidc.Verifier
	sessionName string
}

type Option func(*Backend) error

func WithHTTPClient(client *http.Client) Option {
	return func(b *Backend) error {
		b.httpClient = client
		return nil
	}
}

// WithProviderTimeout bounds every outbound call to an identity provider.
func WithProviderTimeout(d time.Duration) Option {
	return func(b *Backend) error {
		if d <= 0 {
			return fmt.Errorf("provider timeout must be positive")
		}
		b.timeout = d
		return nil
	}
}

// WithContext bounds background work of the backend, such as refreshing
// signing keys of identity providers.
func WithContext(ctx context.Context) Option {
	return func(b *Backend) error {
		if ctx == nil {
			return fmt.Errorf("context must not be nil")
		}
		b.ctx = ctx
		return nil
	}
}

func WithIDTokenVerifier(v *oidc.Verifier) Option {
	return func(b *Backend) error {
		b.verifier = v
		return nil
	}
}

func WithSessionName(name string) Option {
	return func(b *Backend) error {
		if name == "" {
			return fmt.Errorf("session name must not be empty")
		}
		b.sessionName = name
		return nil
	}
}

func NewBackend(registry *provider.Registry, store identity.Store, options ...Option) (*Backend, error) {
	b := &Backend{
		ctx:         context.Background(),
		registry:    registry,
		store:       store,
		httpClient:  http.DefaultClient,
		timeout:     DefaultProviderTimeout,
		sessionName: DefaultSessionName,
	}
	for _, option := range options {
		if err := option(b); err != nil {
			return nil, err
		}
	}
	if b.verifier == nil {
		for _, p := range registry.Providers() {
			if p.VerifiesIDToken() {
				b.verifier = oidc.NewVerifier(b.ctx, b.httpClient)
				break
			}
		}
	}
	return b, nil
}

func (b *Backend) Registry() *provider.Registry {
	return b.registry
}

// AuthorizationRequest is the result of AuthorizeURL. The caller must keep
// State and CodeVerifier in the session until the callback arrives.
type AuthorizationRequest struct {
	URL          string
	State        string
	CodeVerifier string
}

// AuthorizeURL builds the authorization URL of the named provider with a
// fresh CSRF state. It has no side effects.
func (b *Backend) AuthorizeURL(providerName string) (*AuthorizationRequest, error) {
	p, err := b.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	state, err := oauth2.GenerateState()
	if err != nil {
		return nil, err
	}

	req := &AuthorizationRequest{State: state}
	var opts []xoauth2.AuthCodeOption
	if p.PKCE {
		req.CodeVerifier = oauth2.GenerateCodeVerifier()
		opts = append(opts,
			xoauth2.SetAuthURLParam("code_challenge", oauth2.S256ChallengeFromVerifier(req.CodeVerifier)),
			xoauth2.SetAuthURLParam("code_challenge_method", string(oauth2.CodeChallengeMethodS256)),
		)
	}
	req.URL = p.OAuth2Config().AuthCodeURL(state, opts...)

	return req, nil
}

// CSRFPair holds the state stored at login and the state echoed by the provider.
type CSRFPair struct {
	Old string
	New string
}

// Credentials are the inputs of one Authenticate call. They are never persisted.
type Credentials struct {
	Code         string
	Provider     string
	UserinfoURL  string
	CSRF         *CSRFPair
	CodeVerifier string
}

// Authenticate exchanges the authorization code, resolves the login
// identifier and upserts the user. A CSRF mismatch yields (nil, nil) and
// makes no outbound call.
func (b *Backend) Authenticate(ctx context.Context, creds Credentials) (*identity.User, error) {
	if creds.CSRF != nil && !oauth2.StateEquals(creds.CSRF.Old, creds.CSRF.New) {
		slog.Warn("CSRF state mismatch", "provider", creds.Provider)
		return nil, nil
	}

	p, err := b.registry.Get(creds.Provider)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, xoauth2.HTTPClient, b.httpClient)

	var opts []xoauth2.AuthCodeOption
	if creds.CodeVerifier != "" {
		opts = append(opts, xoauth2.VerifierOption(creds.CodeVerifier))
	}
	token, err := p.OAuth2Config().Exchange(ctx, creds.Code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, oauth2.FromRetrieveError(err))
	}

	if p.VerifiesIDToken() {
		if err := b.verifyIDToken(ctx, p, token); err != nil {
			return nil, err
		}
	}

	userinfoURL := creds.UserinfoURL
	if userinfoURL == "" {
		userinfoURL = p.UserinfoURL
	}
	login, err := b.fetchLogin(ctx, p, userinfoURL, token.AccessToken)
	if err != nil {
		return nil, err
	}

	user, err := b.store.UpsertUser(ctx, login, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	slog.Info("User authenticated", "provider", p.Name, "user_id", user.ID, "username", user.Username)
	return user, nil
}

func (b *Backend) verifyIDToken(ctx context.Context, p *provider.Provider, token *xoauth2.Token) error {
	raw, _ := token.Extra("id_token").(string)
	if raw == "" {
		slog.Debug("Token response carries no id_token", "provider", p.Name)
		return nil
	}
	if _, err := b.verifier.Verify(ctx, raw, p.Issuer, p.JwksURI, p.ClientID); err != nil {
		return fmt.Errorf("%w: %w", ErrIDTokenInvalid, err)
	}
	return nil
}

func (b *Backend) fetchLogin(ctx context.Context, p *provider.Provider, userinfoURL, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUserInfoFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUserInfoFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s answered with status %d", ErrUserInfoFailed, p.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserinfoSize))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUserInfoFailed, err)
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("%w: response of %s is not valid json", ErrUserInfoMalformed, p.Name)
	}

	for _, field := range p.LoginFields() {
		value := gjson.GetBytes(body, field)
		if value.Type == gjson.String && value.Str != "" {
			return value.Str, nil
		}
	}
	return "", fmt.Errorf("%w: response of %s has none of the fields %v", ErrUserInfoMalformed, p.Name, p.LoginFields())
}

// GetUser loads a user by id.
func (b *Backend) GetUser(ctx context.Context, id int64) (*identity.User, error) {
	return b.store.GetUser(ctx, id)
}

func (b *Backend) CountUsers(ctx context.Context) (int, error) {
	return b.store.CountUsers(ctx)
}
