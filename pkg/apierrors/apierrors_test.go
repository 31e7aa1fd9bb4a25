package apierrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "kind only",
			err:  New(KindNetworkError, ""),
			want: "network_error",
		},
		{
			name: "kind and message",
			err:  New(KindNoInstallApp, "no credentials for t.bx"),
			want: "no_install_app: no credentials for t.bx",
		},
		{
			name: "kind, status and message",
			err:  New(KindServerError, "retries exhausted").WithStatus(502),
			want: "server_error (status 502): retries exhausted",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestWrapPreservesKind(t *testing.T) {
	inner := New(KindClientError, "bad request").WithStatus(400)
	wrapped := Wrap(fmt.Errorf("calling user.get: %w", inner), KindModuleError, "call failed")

	assert.Equal(t, KindClientError, wrapped.Kind)
	assert.Equal(t, 400, wrapped.Status)
	assert.True(t, errors.Is(wrapped, inner))
}

func TestWrapForeignError(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(cause, KindModuleError, "unexpected failure")

	assert.Equal(t, KindModuleError, wrapped.Kind)
	assert.True(t, errors.Is(wrapped, cause))
}

func TestIsMatchesByKind(t *testing.T) {
	err := Newf(KindRedirectError, "no Location in %d response", 302)

	assert.True(t, errors.Is(err, New(KindRedirectError, "")))
	assert.False(t, errors.Is(err, New(KindServerError, "")))
}

func TestHasKindAndKindOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(KindQueueOverflow, "queue full"))

	assert.True(t, HasKind(err, KindQueueOverflow))
	assert.False(t, HasKind(err, KindCanceled))
	assert.Equal(t, KindQueueOverflow, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestWithBody(t *testing.T) {
	body := map[string]any{"error": "invalid_grant"}
	err := New(KindClientError, "refresh rejected").WithStatus(400).WithBody(body)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "invalid_grant", e.Body["error"])
}
