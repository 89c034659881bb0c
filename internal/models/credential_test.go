package models

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockEncryptor struct {
	suffix string
}

func (m *MockEncryptor) Encrypt(value string) (encrypted string, err error) {
	return value + m.suffix, nil
}

func (m *MockEncryptor) Decrypt(value string) (decrypted string, err error) {
	return strings.TrimSuffix(value, m.suffix), nil
}

func signedJWT(t *testing.T, expiresAt time.Time) string {
	claims := jwt.RegisteredClaims{Subject: "admin", ExpiresAt: jwt.NewNumericDate(expiresAt)}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

func TestEncryptDecrypt(t *testing.T) {
	encryptSuffix := "_encrypted"
	cred := Credential{
		AccessToken:  "A1",
		RefreshToken: "R1",
		ExpiresAt:    time.Now().Add(time.Hour * 2),
		encryptor:    &MockEncryptor{encryptSuffix},
	}
	encCred, err := cred.Encrypt()
	require.NoError(t, err)
	assert.Equal(t, "A1"+encryptSuffix, encCred.AccessToken)
	assert.Equal(t, "R1"+encryptSuffix, encCred.RefreshToken)
	decCred, err := encCred.Decrypt()
	require.NoError(t, err)
	assert.Equal(t, cred, decCred)
}

func TestNoEncryptor(t *testing.T) {
	cred := Credential{AccessToken: "A1", RefreshToken: "R1", ExpiresAt: time.Now().Add(time.Hour)}
	encCred, err := cred.Encrypt()
	require.NoError(t, err)
	decCred, err := encCred.Decrypt()
	require.NoError(t, err)
	assert.Equal(t, cred, encCred)
	assert.Equal(t, cred, decCred)
}

func TestCredentialStringRedacts(t *testing.T) {
	cred := Credential{AccessToken: "very-secret-access", RefreshToken: "very-secret-refresh"}
	assert.NotContains(t, cred.String(), "very-secret")
}

func TestCredentialExpiry(t *testing.T) {
	assert.True(t, Credential{}.Expired())
	assert.True(t, Credential{ExpiresAt: time.Now().Add(-time.Minute)}.Expired())
	assert.False(t, Credential{ExpiresAt: time.Now().Add(time.Hour)}.Expired())
	assert.True(t, Credential{ExpiresAt: time.Now().Add(time.Minute)}.ExpiresSoon(5*time.Minute))
	assert.False(t, Credential{ExpiresAt: time.Now().Add(time.Hour)}.ExpiresSoon(5*time.Minute))
}

func TestTokenResponseWithExpiresIn(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cred, err := TokenResponse{Token: "A2", RefreshToken: "R2", ExpiresIn: 7200}.Credential(now)
	require.NoError(t, err)
	assert.Equal(t, "A2", cred.AccessToken)
	assert.Equal(t, "R2", cred.RefreshToken)
	assert.Equal(t, now.Add(2*time.Hour), cred.ExpiresAt)
}

func TestTokenResponseFallsBackToJWTExpiry(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).Truncate(time.Second).UTC()
	token := signedJWT(t, expiresAt)
	cred, err := TokenResponse{Token: token, RefreshToken: "R2"}.Credential(time.Now())
	require.NoError(t, err)
	assert.Equal(t, expiresAt, cred.ExpiresAt)
}

func TestTokenResponseErrors(t *testing.T) {
	_, err := TokenResponse{}.Credential(time.Now())
	assert.Error(t, err)
	_, err = TokenResponse{Token: "not-a-jwt"}.Credential(time.Now())
	assert.Error(t, err)
}
