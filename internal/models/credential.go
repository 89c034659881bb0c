package models

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Credential is the access / refresh token pair used to authorize calls against the remote API
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	encryptor    Encryptor
}

// SetEncryptor adds encryption capabilities to the credential
func (c Credential) SetEncryptor(enc Encryptor) Credential {
	output := c
	output.encryptor = enc
	return output
}

// Encrypt encrypts both token values if an encryptor is set
func (c Credential) Encrypt() (Credential, error) {
	if c.encryptor == nil {
		return c, nil
	}
	encAccess, err := c.encryptor.Encrypt(c.AccessToken)
	if err != nil {
		return Credential{}, err
	}
	encRefresh, err := c.encryptor.Encrypt(c.RefreshToken)
	if err != nil {
		return Credential{}, err
	}
	output := c
	output.AccessToken = encAccess
	output.RefreshToken = encRefresh
	return output, nil
}

// Decrypt decrypts both token values if an encryptor is set
func (c Credential) Decrypt() (Credential, error) {
	if c.encryptor == nil {
		return c, nil
	}
	decAccess, err := c.encryptor.Decrypt(c.AccessToken)
	if err != nil {
		return Credential{}, err
	}
	decRefresh, err := c.encryptor.Decrypt(c.RefreshToken)
	if err != nil {
		return Credential{}, err
	}
	output := c
	output.AccessToken = decAccess
	output.RefreshToken = decRefresh
	return output, nil
}

// String implements the Stringer interface for printing the credential in logs
func (c Credential) String() string {
	return fmt.Sprintf(
		"Credential<AccessToken: redacted, RefreshToken: redacted, ExpiresAt: %s, Encryption: %v>",
		c.ExpiresAt,
		c.encryptor != nil,
	)
}

// Expired is true when there is no known expiry or the expiry is in the past.
func (c Credential) Expired() bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().UTC().After(c.ExpiresAt)
}

func (c Credential) ExpiresSoon(margin time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().UTC().Add(margin).After(c.ExpiresAt)
}

// SameAccess reports whether two credentials carry the same access token.
func (c Credential) SameAccess(other Credential) bool {
	return c.AccessToken == other.AccessToken
}

// TokenResponse is the payload returned by the login and refresh endpoints of the remote API
type TokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

func (t TokenResponse) String() string {
	return fmt.Sprintf("TokenResponse<Token: redacted, RefreshToken: redacted, ExpiresIn: %d>", t.ExpiresIn)
}

// Credential converts the response to a credential. When the response carries no
// expires_in value the expiry is read from the exp claim of the access token, if
// the access token is a JWT.
func (t TokenResponse) Credential(now time.Time) (Credential, error) {
	if t.Token == "" {
		return Credential{}, fmt.Errorf("the token response does not contain an access token")
	}
	cred := Credential{AccessToken: t.Token, RefreshToken: t.RefreshToken}
	if t.ExpiresIn > 0 {
		cred.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
		return cred, nil
	}
	expiresAt, err := JWTExpiry(t.Token)
	if err != nil {
		return Credential{}, err
	}
	cred.ExpiresAt = expiresAt
	return cred, nil
}

// JWTExpiry returns the exp claim of an unverified JWT. The signature is not
// checked, the remote API remains the authority on whether the token is valid.
func JWTExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot determine the expiry of the access token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("the access token does not have an exp claim")
	}
	return claims.ExpiresAt.Time.UTC(), nil
}
