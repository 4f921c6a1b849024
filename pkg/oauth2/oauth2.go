package oauth2

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	xoauth2 "golang.org/x/oauth2"
)

// Error codes used in redirects and JSON error bodies.
const (
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeInvalidState   = "invalid_state"
	ErrorCodeAccessDenied   = "access_denied"
	ErrorCodeUnauthorized   = "unauthorized"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeServerError    = "server_error"
	ErrorCodeBadGateway     = "bad_gateway"
)

type CodeChallengeMethod string

const (
	CodeChallengeMethodS256 CodeChallengeMethod = "S256"
)

type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// FromRetrieveError converts an error returned by the token endpoint into an
// Error. Errors that did not come from the token endpoint are returned as is.
func FromRetrieveError(err error) error {
	var re *xoauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	code := re.ErrorCode
	if code == "" {
		code = ErrorCodeServerError
		if re.Response != nil {
			code = fmt.Sprintf("http_%d", re.Response.StatusCode)
		}
	}
	return &Error{
		Code:        code,
		Description: re.ErrorDescription,
	}
}

const stateBytes = 32

// GenerateState returns a random, url safe anti-forgery token.
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// StateEquals compares two state tokens in constant time.
func StateEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

func GenerateCodeVerifier() string {
	n := 128
	ret := make([]byte, n)
	for i := 0; i < n; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			panic("Random number generation failed")
		}
		ret[i] = letters[num.Int64()]
	}

	return string(ret)
}

func S256ChallengeFromVerifier(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}
