package authn

import (
	"errors"
	"net/http"

	"github.com/gematik/zero-gate/pkg/oauth2"
	"github.com/gematik/zero-gate/pkg/provider"
)

var (
	ErrProviderNotFound    = provider.ErrProviderNotFound
	ErrMissingCSRFState    = errors.New("missing csrf state")
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	ErrIDTokenInvalid      = errors.New("id token invalid")
	ErrUserInfoFailed      = errors.New("user info request failed")
	ErrUserInfoMalformed   = errors.New("user info malformed")
	ErrStore               = errors.New("identity store failure")
	ErrSession             = errors.New("session failure")
)

// HTTPStatus maps an authentication error to the response status.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrProviderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMissingCSRFState):
		return http.StatusBadRequest
	case errors.Is(err, ErrTokenExchangeFailed), errors.Is(err, ErrIDTokenInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUserInfoFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WireError converts err into an error safe to show to the browser. It never
// carries upstream details.
func WireError(err error) *oauth2.Error {
	switch {
	case errors.Is(err, ErrProviderNotFound):
		return &oauth2.Error{Code: oauth2.ErrorCodeNotFound, Description: "unknown identity provider"}
	case errors.Is(err, ErrMissingCSRFState):
		return &oauth2.Error{Code: oauth2.ErrorCodeInvalidRequest, Description: "no login in progress"}
	case errors.Is(err, ErrTokenExchangeFailed):
		return &oauth2.Error{Code: oauth2.ErrorCodeAccessDenied, Description: "the identity provider rejected the authorization code"}
	case errors.Is(err, ErrIDTokenInvalid):
		return &oauth2.Error{Code: oauth2.ErrorCodeAccessDenied, Description: "the identity provider returned an invalid id token"}
	case errors.Is(err, ErrUserInfoFailed):
		return &oauth2.Error{Code: oauth2.ErrorCodeBadGateway, Description: "the identity provider is not available"}
	default:
		return &oauth2.Error{Code: oauth2.ErrorCodeServerError, Description: "internal error"}
	}
}
