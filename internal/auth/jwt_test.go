package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager(t *testing.T) {
	secretKey := "test-secret-key-for-testing"
	jwtManager := NewJWTManager(secretKey, time.Hour)

	t.Run("ValidateToken validates correct token", func(t *testing.T) {
		token, err := jwtManager.GenerateToken("ops@example.com", RoleTenant, "acme")
		require.NoError(t, err)

		claims, err := jwtManager.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "ops@example.com", claims.Subject)
		assert.Equal(t, RoleTenant, claims.Role)
		assert.Equal(t, "acme", claims.TenantID)
		assert.True(t, claims.CanAccessTenant("acme"))
		assert.False(t, claims.CanAccessTenant("globex"))
	})

	t.Run("operator tokens span tenants", func(t *testing.T) {
		token, err := jwtManager.GenerateToken("root", RoleOperator, "")
		require.NoError(t, err)
		claims, err := jwtManager.ValidateToken(token)
		require.NoError(t, err)
		assert.True(t, claims.CanAccessTenant("anything"))
	})

	t.Run("ValidateToken rejects invalid token", func(t *testing.T) {
		_, err := jwtManager.ValidateToken("invalid.token.here")
		assert.Error(t, err)
	})

	t.Run("ValidateToken rejects expired token", func(t *testing.T) {
		shortManager := NewJWTManager(secretKey, time.Nanosecond)
		token, err := shortManager.GenerateToken("ops", RoleOperator, "")
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)

		_, err = shortManager.ValidateToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("ValidateToken rejects token signed with other key", func(t *testing.T) {
		token, err := NewJWTManager("other-secret", time.Hour).GenerateToken("ops", RoleOperator, "")
		require.NoError(t, err)
		_, err = jwtManager.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("ValidateToken rejects non HMAC algorithms", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: RoleOperator})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = jwtManager.ValidateToken(signed)
		assert.Error(t, err)
	})
}
