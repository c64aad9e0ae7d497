package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/homabaysouq/souq-backend/pkg/config"
	"github.com/homabaysouq/souq-backend/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "souq", ExpirationMinutes: 30}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testJWTConfig()
	userID := uuid.New()

	token, err := MintAccessToken(cfg, time.Now().UTC(), AccessTokenPayload{
		UserID: userID,
		Role:   enums.UserRoleStaff,
		Email:  "ops@souq.co.ke",
		Phone:  "254712345678",
	})
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, token)
	require.NoError(t, err)
	require.Equal(t, userID, claims.UserID)
	require.True(t, claims.IsStaff())
	require.Equal(t, "ops@souq.co.ke", claims.Email)
	require.Equal(t, cfg.Issuer, claims.Issuer)
	require.NotEmpty(t, claims.ID)
}

func TestMintAccessTokenValidatesInput(t *testing.T) {
	cfg := testJWTConfig()
	_, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{Role: enums.UserRoleMember})
	require.Error(t, err)

	_, err = MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: "admin"})
	require.Error(t, err)

	_, err = MintAccessToken(config.JWTConfig{}, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleMember})
	require.Error(t, err)
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleMember})
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, token)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseAccessTokenRejectsWrongIssuerAndSecret(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Role: enums.UserRoleMember})
	require.NoError(t, err)

	other := cfg
	other.Issuer = "someone-else"
	_, err = ParseAccessToken(other, token)
	require.Error(t, err)

	other = cfg
	other.Secret = "different"
	_, err = ParseAccessToken(other, token)
	require.Error(t, err)
}

func TestIsStaffNilSafe(t *testing.T) {
	var claims *AccessTokenClaims
	require.False(t, claims.IsStaff())
	require.False(t, (&AccessTokenClaims{Role: enums.UserRoleMember}).IsStaff())
}
