package oauth2

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xoauth2 "golang.org/x/oauth2"
)

func TestGenerateState(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		state, err := GenerateState()
		require.NoError(t, err)
		assert.Len(t, state, 43)
		assert.False(t, seen[state], "duplicate state %s", state)
		seen[state] = true
	}
}

func TestStateEquals(t *testing.T) {
	assert.True(t, StateEquals("abc", "abc"))
	assert.False(t, StateEquals("abc", "abd"))
	assert.False(t, StateEquals("abc", "abcd"))
	assert.False(t, StateEquals("", "abc"))
}

func TestCodeVerifier(t *testing.T) {
	verifier := GenerateCodeVerifier()
	assert.Len(t, verifier, 128)
	// RFC 7636 appendix B
	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		S256ChallengeFromVerifier("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"),
	)
}

func TestFromRetrieveError(t *testing.T) {
	err := FromRetrieveError(&xoauth2.RetrieveError{
		Response:         &http.Response{StatusCode: http.StatusBadRequest},
		ErrorCode:        "bad_verification_code",
		ErrorDescription: "The code passed is incorrect or expired.",
	})
	var oerr *Error
	require.True(t, errors.As(err, &oerr))
	assert.Equal(t, "bad_verification_code", oerr.Code)
	assert.Equal(t, "bad_verification_code: The code passed is incorrect or expired.", oerr.Error())

	err = FromRetrieveError(&xoauth2.RetrieveError{
		Response: &http.Response{StatusCode: http.StatusInternalServerError},
	})
	require.True(t, errors.As(err, &oerr))
	assert.Equal(t, "http_500", oerr.Code)

	plain := fmt.Errorf("dial tcp: connection refused")
	assert.Same(t, plain, FromRetrieveError(plain))
}
