package channeltoken

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"line-flex-bridge/internal/common/errors"
)

// Claims is the client assertion claim set
type Claims struct {
	// Issuer and Subject are both the channel ID
	Issuer    string
	Subject   string
	Audience  string
	ExpiresAt time.Time
	// TokenLifetime is requested from LINE as token_exp
	TokenLifetime time.Duration
}

// NewClaims builds a fresh claim set for channelID with exp = now + 30 minutes
func NewClaims(channelID string, now time.Time) Claims {
	return Claims{
		Issuer:        channelID,
		Subject:       channelID,
		Audience:      Audience,
		ExpiresAt:     now.Add(AssertionLifetime),
		TokenLifetime: RequestedTokenLifetime,
	}
}

func (c Claims) mapClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":       c.Issuer,
		"sub":       c.Subject,
		"aud":       c.Audience,
		"exp":       c.ExpiresAt.Unix(),
		"token_exp": int64(c.TokenLifetime / time.Second),
	}
}

// AssertionSigner turns claims into a compact JWS
type AssertionSigner interface {
	Sign(claims Claims, key *KeyMaterial) (string, error)
}

// RS256Signer signs assertions with RSASSA-PKCS1-v1_5 SHA-256 and puts the
// key id in the kid header
type RS256Signer struct{}

var _ AssertionSigner = RS256Signer{}

func (RS256Signer) Sign(claims Claims, key *KeyMaterial) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	if claims.Issuer == "" {
		return "", errors.SigningError("channel id is required", nil)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims.mapClaims())
	token.Header["kid"] = key.KeyID

	signed, err := token.SignedString(key.PrivateKey)
	if err != nil {
		return "", errors.SigningError("failed to sign client assertion", err).WithContext("kid", key.KeyID)
	}
	return signed, nil
}
