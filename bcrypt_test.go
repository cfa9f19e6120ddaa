package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/goliatone/go-workorder-auth"
)

func TestBcryptHasher_RoundTrip(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	for _, password := range []string{"secret-password", "pässwörd-ünicode", strings.Repeat("x", 72)} {
		hash, err := hasher.HashPassword(password)
		require.NoError(t, err)
		assert.NotEqual(t, password, hash)
		assert.NoError(t, hasher.ComparePasswordAndHash(password, hash))
	}
}

func TestBcryptHasher_Salted(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)

	first, err := hasher.HashPassword("same-password")
	require.NoError(t, err)
	second, err := hasher.HashPassword("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestBcryptHasher_Failures(t *testing.T) {
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	hash, err := hasher.HashPassword("secret-password")
	require.NoError(t, err)

	t.Run("empty password is refused", func(t *testing.T) {
		_, err := hasher.HashPassword("")
		require.Error(t, err)
		assert.Equal(t, auth.KindBadRequest, auth.KindOf(err))
	})

	t.Run("mismatch is invalid credentials", func(t *testing.T) {
		err := hasher.ComparePasswordAndHash("Secret-password", hash)
		require.Error(t, err)
		assert.Equal(t, auth.KindInvalidCredentials, auth.KindOf(err))
	})

	t.Run("corrupt hash is internal", func(t *testing.T) {
		err := hasher.ComparePasswordAndHash("secret-password", "$2a$04$not-a-hash")
		require.Error(t, err)
		assert.Equal(t, auth.KindInternal, auth.KindOf(err))
	})
}

func TestNewBcryptHasher_Cost(t *testing.T) {
	hash, err := auth.NewBcryptHasher(bcrypt.MinCost + 1).HashPassword("pw")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+1, cost)

	hash, err = auth.HashPassword("pw")
	require.NoError(t, err)
	cost, err = bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cost, bcrypt.DefaultCost)

	assert.NoError(t, auth.ComparePasswordAndHash("pw", hash))
}
