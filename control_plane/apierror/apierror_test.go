package apierror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
	}{
		{InvalidRequest("bad"), http.StatusBadRequest},
		{Unauthorized("no session"), http.StatusUnauthorized},
		{Forbidden("not yours"), http.StatusForbidden},
		{WorkspaceNotFound("nope"), http.StatusNotFound},
		{InvalidState("wrong phase"), http.StatusConflict},
		{TooManyRequests("slow down", 5), http.StatusTooManyRequests},
		{UpstreamUnavailable("down", nil), http.StatusBadGateway},
		{Internal("boom", nil), http.StatusInternalServerError},
	}
	for _, c := range cases {
		require.Equal(t, c.status, c.err.Status(), c.err.Code)
	}
}

func TestBodyShape(t *testing.T) {
	err := Forbidden("not your workspace")
	b := err.Body()
	require.Equal(t, "FORBIDDEN", b.Error.Code)
	require.Equal(t, "not your workspace", b.Error.Message)
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("db exploded")
	err := Internal("query failed", cause)
	require.ErrorIs(t, err, cause)
}

func TestRetryAfterCarried(t *testing.T) {
	err := TooManyRequests("try later", 30)
	require.Equal(t, 30, err.RetryAfter)
}
