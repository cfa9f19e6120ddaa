package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-workorder-auth"
)

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "Alice", "alice@x.com", "555-0100")

	t.Run("by email", func(t *testing.T) {
		res, err := f.svc.Login(ctx, "Alice@X.com", "secret-password")
		require.NoError(t, err)
		assert.Equal(t, "Bearer", res.TokenType)
		assert.Equal(t, alice.ID, res.Profile.ID)
		assert.Equal(t, []string{"ROLE_USER"}, res.Roles)
		assert.True(t, f.clock.Now().Add(auth.DefaultAccessTokenTTL).Equal(res.ExpiresAt))

		claims, err := f.codec.Validate(res.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "alice@x.com", claims.Subject())
		assert.Equal(t, alice.ID, claims.UserID())
		assert.Equal(t, auth.AccessToken, claims.TokenType())
		assert.Equal(t, []string{"ROLE_USER"}, claims.Roles)

		refresh, err := f.codec.Validate(res.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, auth.RefreshToken, refresh.TokenType())
		assert.True(t, f.clock.Now().Add(auth.DefaultRefreshTokenTTL).Equal(refresh.Expires()))
	})

	t.Run("by phone", func(t *testing.T) {
		res, err := f.svc.Login(ctx, "555 0100", "secret-password")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, res.Profile.ID)
	})

	t.Run("email shaped identifier never matches a phone", func(t *testing.T) {
		_, err := f.svc.Login(ctx, "555-0100@nobody.example", "secret-password")
		require.Error(t, err)
		assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err))

		_, err = f.repo.Users().GetByIdentifier(ctx, "555-0100@nobody.example")
		assert.Equal(t, auth.KindNotFound, auth.KindOf(err))
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := f.svc.Login(ctx, "alice@x.com", "wrong-password")
		require.Error(t, err)
		assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err))
	})

	t.Run("unknown identifier fails the same way", func(t *testing.T) {
		_, unknown := f.svc.Login(ctx, "ghost@x.com", "secret-password")
		_, wrong := f.svc.Login(ctx, "alice@x.com", "wrong-password")
		require.Error(t, unknown)
		assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(unknown))
		assert.Equal(t, wrong.Error(), unknown.Error())
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := f.svc.Login(cctx, "alice@x.com", "secret-password")
		require.Error(t, err)
		assert.Equal(t, auth.KindInternal, auth.KindOf(err))
	})

	types := f.activity.types()
	assert.Contains(t, types, auth.ActivityEventLoginSuccess)
	assert.Contains(t, types, auth.ActivityEventLoginFailure)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Alice", "alice@x.com", "555-0100")

	login, err := f.svc.Login(ctx, "alice@x.com", "secret-password")
	require.NoError(t, err)

	t.Run("mints a new access token", func(t *testing.T) {
		f.clock.Advance(2 * time.Hour)

		res, err := f.svc.Refresh(ctx, login.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, login.RefreshToken, res.RefreshToken)
		assert.NotEqual(t, login.AccessToken, res.AccessToken)

		principal, err := f.svc.PrincipalFromToken(res.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "alice@x.com", principal.Subject)
		assert.True(t, principal.HasAuthority(auth.RoleUser))

		// the original access token has expired by now
		_, err = f.svc.PrincipalFromToken(login.AccessToken)
		assert.Equal(t, auth.KindUnauthenticated, auth.KindOf(err))
	})

	t.Run("access token is refused", func(t *testing.T) {
		fresh, err := f.svc.Login(ctx, "alice@x.com", "secret-password")
		require.NoError(t, err)

		_, err = f.svc.Refresh(ctx, fresh.AccessToken)
		require.Error(t, err)
		assert.Equal(t, auth.KindForbidden, auth.KindOf(err))
	})

	t.Run("garbage is refused", func(t *testing.T) {
		_, err := f.svc.Refresh(ctx, "garbage")
		require.Error(t, err)
		assert.True(t, auth.HasTextCode(err, auth.TextCodeRefreshDenied))
	})

	t.Run("expired refresh token is forbidden", func(t *testing.T) {
		f.clock.Advance(auth.DefaultRefreshTokenTTL)

		_, err := f.svc.Refresh(ctx, login.RefreshToken)
		require.Error(t, err)
		assert.Equal(t, auth.KindForbidden, auth.KindOf(err))
	})
}

func TestRefresh_DeletedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "Alice", "alice@x.com", "555-0100")

	login, err := f.svc.Login(ctx, "alice@x.com", "secret-password")
	require.NoError(t, err)

	require.NoError(t, f.svc.UserManager().Delete(ctx, adminPrincipal(), user.ID))

	_, err = f.svc.Refresh(ctx, login.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, auth.KindForbidden, auth.KindOf(err))
}

func TestPrincipalFromToken_RejectsRefreshTokens(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Alice", "alice@x.com", "555-0100")

	login, err := f.svc.Login(context.Background(), "alice@x.com", "secret-password")
	require.NoError(t, err)

	_, err = f.svc.PrincipalFromToken(login.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, auth.TokenUnsupported, auth.TokenErrorReason(err))
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	admin := f.register(t, "Ada", "ada@x.com", "555-0300", "admin")
	user := f.register(t, "Alice", "alice@x.com", "555-0100")

	assert.True(t, f.svc.Authorize(auth.PrincipalFromUser(admin), auth.RequireRole(auth.RoleAdmin)))
	assert.False(t, f.svc.Authorize(auth.PrincipalFromUser(user), auth.RequireRole(auth.RoleAdmin)))
	assert.True(t, f.svc.Authorize(auth.PrincipalFromUser(user), auth.RequireSelfOrRole(user.ID, auth.RoleAdmin)))
	assert.False(t, f.svc.Authorize(auth.Principal{}, auth.AccessRequirement{}))
}

func TestClaimsDecorator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "Alice", "alice@x.com", "555-0100")

	t.Run("metadata is allowed", func(t *testing.T) {
		f.svc.WithClaimsDecorator(auth.ClaimsDecoratorFunc(func(_ context.Context, user *auth.User, claims *auth.JWTClaims) error {
			claims.Metadata = map[string]any{"first_name": user.FirstName}
			return nil
		}))

		res, err := f.svc.Login(ctx, "alice@x.com", "secret-password")
		require.NoError(t, err)

		claims, err := f.codec.Validate(res.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "Alice", claims.ClaimsMetadata()["first_name"])
	})

	mutations := map[string]func(*auth.JWTClaims){
		"sub":   func(c *auth.JWTClaims) { c.RegisteredClaims = jwt.RegisteredClaims{Subject: "mallory@x.com"} },
		"uid":   func(c *auth.JWTClaims) { c.UID = 1000 },
		"roles": func(c *auth.JWTClaims) { c.Roles = append(c.Roles, "ROLE_ADMIN") },
		"typ":   func(c *auth.JWTClaims) { c.Type = auth.RefreshToken },
	}

	for claim, mutate := range mutations {
		t.Run("rejects "+claim, func(t *testing.T) {
			f.svc.WithClaimsDecorator(auth.ClaimsDecoratorFunc(func(_ context.Context, _ *auth.User, claims *auth.JWTClaims) error {
				mutate(claims)
				return nil
			}))

			_, err := f.svc.Login(ctx, "alice@x.com", "secret-password")
			require.Error(t, err)
			assert.Equal(t, auth.KindInternal, auth.KindOf(err))
		})
	}

	f.svc.WithClaimsDecorator(nil)
	_, err := f.svc.Login(ctx, "alice@x.com", "secret-password")
	assert.NoError(t, err)
}
