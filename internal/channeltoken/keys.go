package channeltoken

import (
	"bytes"
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	jose "gopkg.in/square/go-jose.v2"
	"line-flex-bridge/internal/common/errors"
)

// KeyMaterial is the assertion signing key registered in the LINE Developers
// console together with the kid LINE assigned to its public half
type KeyMaterial struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

// Validate checks that both the identifier and the key are present
func (k *KeyMaterial) Validate() error {
	if k == nil || k.PrivateKey == nil {
		return errors.SigningError("private key is required", nil)
	}
	if k.KeyID == "" {
		return errors.SigningError("signing key id is required", nil)
	}
	return nil
}

// ParseKeyMaterial reads an RSA private key from PEM (PKCS#1 or PKCS#8) or
// from a JSON Web Key. keyID always wins; a JWK kid is used only when keyID
// is empty. Malformed input is a signing error.
func ParseKeyMaterial(keyID string, data []byte) (*KeyMaterial, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.SigningError("private key is empty", nil)
	}

	var (
		key *rsa.PrivateKey
		err error
	)
	if data[0] == '{' {
		var jwkKeyID string
		key, jwkKeyID, err = parseJWK(data)
		if keyID == "" {
			keyID = jwkKeyID
		}
	} else {
		key, err = jwt.ParseRSAPrivateKeyFromPEM(data)
	}
	if err != nil {
		return nil, errors.SigningError("failed to parse private key", err)
	}

	material := &KeyMaterial{KeyID: keyID, PrivateKey: key}
	if err := material.Validate(); err != nil {
		return nil, err
	}
	return material, nil
}

// LoadKeyMaterial reads the key from path and parses it with ParseKeyMaterial
func LoadKeyMaterial(keyID, path string) (*KeyMaterial, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.SigningError("failed to read private key file", err).WithContext("path", path)
	}
	return ParseKeyMaterial(keyID, data)
}

func parseJWK(data []byte) (*rsa.PrivateKey, string, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(data); err != nil {
		return nil, "", err
	}
	key, ok := jwk.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, "", fmt.Errorf("JWK holds %T, want an RSA private key", jwk.Key)
	}
	return key, jwk.KeyID, nil
}
