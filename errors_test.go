package auth_test

import (
	"errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"

	auth "github.com/goliatone/go-workorder-auth"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want auth.ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "invalid credentials", err: auth.ErrInvalidCredentials, want: auth.KindInvalidCredentials},
		{name: "invalid token", err: auth.ErrInvalidToken, want: auth.KindUnauthenticated},
		{name: "refresh denied", err: auth.ErrRefreshDenied, want: auth.KindForbidden},
		{name: "email taken", err: auth.ErrEmailTaken, want: auth.KindConflict},
		{name: "verification expired", err: auth.ErrVerificationTokenExpired, want: auth.KindBadRequest},
		{name: "verification not found", err: auth.ErrVerificationTokenNotFound, want: auth.KindNotFound},
		{name: "system role", err: auth.ErrSystemRoleProtected, want: auth.KindForbidden},
		{name: "validation", err: goerrors.New("bad", goerrors.CategoryValidation), want: auth.KindBadRequest},
		{name: "plain error", err: errors.New("boom"), want: auth.KindInternal},
		{name: "wrapped rich error", err: goerrors.Wrap(auth.ErrPhoneTaken, goerrors.CategoryInternal, "register"), want: auth.KindConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.KindOf(tt.err))
		})
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, auth.StatusCode(auth.KindInvalidCredentials))
	assert.Equal(t, http.StatusUnauthorized, auth.StatusCode(auth.KindUnauthenticated))
	assert.Equal(t, http.StatusConflict, auth.StatusCode(auth.KindConflict))
	assert.Equal(t, http.StatusBadRequest, auth.StatusCode(auth.KindBadRequest))
	assert.Equal(t, http.StatusNotFound, auth.StatusCode(auth.KindNotFound))
	assert.Equal(t, http.StatusForbidden, auth.StatusCode(auth.KindForbidden))
	assert.Equal(t, http.StatusInternalServerError, auth.StatusCode(auth.KindInternal))
}

func TestPublicError(t *testing.T) {
	t.Run("internal errors are scrubbed", func(t *testing.T) {
		err := goerrors.Wrap(errors.New("pq: connection refused on 10.0.0.3"), goerrors.CategoryInternal, "failed to insert user").
			WithMetadata(map[string]any{"dsn": "secret"})

		public := auth.PublicError(err)
		assert.Equal(t, "internal error", public.Message)
		assert.Equal(t, auth.TextCodeInternal, public.TextCode)
		assert.Equal(t, http.StatusInternalServerError, public.Code)
		assert.Nil(t, public.Source)
		assert.Empty(t, public.Metadata)
	})

	t.Run("metadata stays in the logs", func(t *testing.T) {
		err := goerrors.Wrap(auth.ErrEmailTaken.Clone(), goerrors.CategoryConflict, "register").
			WithMetadata(map[string]any{"email": "alice@x.com"})

		public := auth.PublicError(err)
		assert.Equal(t, goerrors.CategoryConflict, public.Category)
		assert.Equal(t, auth.TextCodeEmailTaken, public.TextCode)
		assert.Equal(t, http.StatusConflict, public.Code)
		assert.Empty(t, public.Metadata)
	})

	t.Run("status derived from kind when missing", func(t *testing.T) {
		public := auth.PublicError(goerrors.New("no such thing", goerrors.CategoryNotFound))
		assert.Equal(t, http.StatusNotFound, public.Code)
		assert.Equal(t, "NOT_FOUND", public.TextCode)
	})

	assert.Nil(t, auth.PublicError(nil))
}

func TestHasTextCode(t *testing.T) {
	wrapped := goerrors.Wrap(auth.ErrRoleNotFound, goerrors.CategoryInternal, "lookup")
	assert.True(t, auth.HasTextCode(wrapped, auth.TextCodeRoleNotFound))
	assert.False(t, auth.HasTextCode(wrapped, auth.TextCodeUserNotFound))
	assert.False(t, auth.HasTextCode(errors.New("plain"), auth.TextCodeRoleNotFound))
}

func TestTokenErrorReason(t *testing.T) {
	assert.Equal(t, auth.InvalidTokenReason(""), auth.TokenErrorReason(errors.New("plain")))
	assert.Equal(t, auth.InvalidTokenReason(""), auth.TokenErrorReason(auth.ErrInvalidToken))

	err := auth.ErrInvalidToken.Clone().WithMetadata(map[string]any{"reason": auth.TokenExpired})
	assert.Equal(t, auth.TokenExpired, auth.TokenErrorReason(err))
}
