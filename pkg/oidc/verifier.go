package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var ErrInvalidIDToken = errors.New("invalid id token")

// Verifier checks ID tokens against the signing keys of their issuer. Key sets
// are cached and refreshed in the background.
type Verifier struct {
	httpClient *http.Client
	keyCache   *jwk.Cache
	lock       sync.Mutex
	jwksURIs   map[string]string
}

// NewVerifier creates a verifier. The key cache stops refreshing when ctx is done.
func NewVerifier(ctx context.Context, httpClient *http.Client) *Verifier {
	return &Verifier{
		httpClient: httpClient,
		keyCache:   jwk.NewCache(ctx),
		jwksURIs:   make(map[string]string),
	}
}

// Verify parses the serialized ID token and checks signature, issuer,
// audience and expiry. jwksURI may be empty, in which case it is discovered
// from the issuer.
func (v *Verifier) Verify(ctx context.Context, serialized, issuer, jwksURI, clientID string) (jwt.Token, error) {
	uri, err := v.resolveJwksURI(ctx, issuer, jwksURI)
	if err != nil {
		return nil, err
	}

	keySet, err := v.keyCache.Get(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("unable to get key set: %w", err)
	}

	token, err := jwt.ParseString(
		serialized,
		jwt.WithKeySet(keySet),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(clientID),
		jwt.WithRequiredClaim("exp"),
		jwt.WithAcceptableSkew(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIDToken, err)
	}
	return token, nil
}

func (v *Verifier) resolveJwksURI(ctx context.Context, issuer, jwksURI string) (string, error) {
	v.lock.Lock()
	defer v.lock.Unlock()

	if jwksURI == "" {
		jwksURI = v.jwksURIs[issuer]
	}
	if jwksURI == "" {
		doc, err := FetchDiscoveryDocument(ctx, v.httpClient, issuer)
		if err != nil {
			return "", err
		}
		jwksURI = doc.JwksURI
		v.jwksURIs[issuer] = jwksURI
	}

	if !v.keyCache.IsRegistered(jwksURI) {
		err := v.keyCache.Register(jwksURI,
			jwk.WithMinRefreshInterval(15*time.Minute),
			jwk.WithHTTPClient(v.httpClient),
		)
		if err != nil {
			return "", fmt.Errorf("unable to register key set %s: %w", jwksURI, err)
		}
	}
	return jwksURI, nil
}
