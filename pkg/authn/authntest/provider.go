// Package authntest provides a fake OAuth2 identity provider for tests.
package authntest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gematik/zero-gate/pkg/config"
	"github.com/gematik/zero-gate/pkg/provider"
	"github.com/segmentio/ksuid"
)

const (
	ClientID     = "test-client"
	ClientSecret = "test-secret"
)

// Provider is an identity provider backed by httptest.Server. Codes are single use.
type Provider struct {
	Server *httptest.Server

	// LoginField is the user-info field carrying the login, "login" by default.
	LoginField string
	// UserinfoStatus overrides the status of the user-info endpoint when set.
	UserinfoStatus int
	// UserinfoBody overrides the body of the user-info endpoint when set.
	UserinfoBody string
	// TokenDelay delays token responses.
	TokenDelay time.Duration

	tokenCalls    atomic.Int32
	userinfoCalls atomic.Int32

	lock   sync.Mutex
	codes  map[string]string
	tokens map[string]string
	pkce   map[string]string
}

func NewProvider() *Provider {
	p := &Provider{
		LoginField: "login",
		codes:      make(map[string]string),
		tokens:     make(map[string]string),
		pkce:       make(map[string]string),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", p.authorize)
	mux.HandleFunc("/token", p.token)
	mux.HandleFunc("/user", p.userinfo)
	p.Server = httptest.NewServer(mux)
	return p
}

func (p *Provider) Close() {
	p.Server.Close()
}

// Provider returns the registry entry for this fake under name.
func (p *Provider) Provider(name, redirectURL string) *provider.Provider {
	return &provider.Provider{
		Name:         name,
		DisplayName:  "Fake " + name,
		ClientID:     ClientID,
		ClientSecret: config.NewSecretString(ClientSecret),
		AuthURL:      p.Server.URL + "/authorize",
		TokenURL:     p.Server.URL + "/token",
		UserinfoURL:  p.Server.URL + "/user",
		RedirectURL:  redirectURL,
		Scopes:       provider.DefaultScopes,
		LoginField:   p.LoginField,
	}
}

// IssueCode registers an authorization code that resolves to login.
func (p *Provider) IssueCode(login string) string {
	code := ksuid.New().String()
	p.lock.Lock()
	p.codes[code] = login
	p.lock.Unlock()
	return code
}

// Calls returns the number of requests made to the token and user-info endpoints.
func (p *Provider) Calls() int {
	return int(p.tokenCalls.Load() + p.userinfoCalls.Load())
}

func (p *Provider) TokenCalls() int {
	return int(p.tokenCalls.Load())
}

// authorize issues a code for the login query parameter and redirects back
// like a provider would after the user consented.
func (p *Provider) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	login := q.Get("login")
	if login == "" || q.Get("client_id") != ClientID || q.Get("response_type") != "code" {
		http.Error(w, "bad authorization request", http.StatusBadRequest)
		return
	}
	code := p.IssueCode(login)
	if challenge := q.Get("code_challenge"); challenge != "" {
		p.lock.Lock()
		p.pkce[code] = challenge
		p.lock.Unlock()
	}

	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil {
		http.Error(w, "bad redirect_uri", http.StatusBadRequest)
		return
	}
	rq := redirect.Query()
	rq.Set("code", code)
	rq.Set("state", q.Get("state"))
	redirect.RawQuery = rq.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	p.tokenCalls.Add(1)
	if p.TokenDelay > 0 {
		select {
		case <-time.After(p.TokenDelay):
		case <-r.Context().Done():
			return
		}
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	clientID, secret, ok := r.BasicAuth()
	if !ok {
		clientID, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if clientID != ClientID || secret != ClientSecret {
		writeError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	code := r.PostForm.Get("code")
	p.lock.Lock()
	login, found := p.codes[code]
	delete(p.codes, code)
	challenge := p.pkce[code]
	delete(p.pkce, code)
	p.lock.Unlock()

	if !found {
		writeError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	if challenge != "" && r.PostForm.Get("code_verifier") == "" {
		writeError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	accessToken := "at-" + ksuid.New().String()
	p.lock.Lock()
	p.tokens[accessToken] = login
	p.lock.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": accessToken,
		"token_type":   "bearer",
		"expires_in":   3600,
	})
}

func (p *Provider) userinfo(w http.ResponseWriter, r *http.Request) {
	p.userinfoCalls.Add(1)
	if p.UserinfoStatus != 0 {
		w.WriteHeader(p.UserinfoStatus)
		fmt.Fprint(w, p.UserinfoBody)
		return
	}
	if p.UserinfoBody != "" {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, p.UserinfoBody)
		return
	}

	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	p.lock.Lock()
	login, ok := p.tokens[auth[len(prefix):]]
	p.lock.Unlock()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		p.LoginField: login,
		"id":         4711,
	})
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}
