package channeltoken

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"line-flex-bridge/internal/common/errors"
)

func decodeSegment(t *testing.T, segment string) map[string]interface{} {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestRS256Signer_AssertionShape(t *testing.T) {
	key := testKeyMaterial(t, "key-1")
	signedAt := time.Now()

	assertion, err := RS256Signer{}.Sign(NewClaims("U123", signedAt), key)
	require.NoError(t, err)

	segments := strings.Split(assertion, ".")
	require.Len(t, segments, 3)

	header := decodeSegment(t, segments[0])
	assert.Equal(t, map[string]interface{}{"alg": "RS256", "typ": "JWT", "kid": "key-1"}, header)

	payload := decodeSegment(t, segments[1])
	assert.Equal(t, "U123", payload["iss"])
	assert.Equal(t, "U123", payload["sub"])
	assert.Equal(t, "https://api.line.me/", payload["aud"])
	assert.InDelta(t, 1800, payload["exp"].(float64)-float64(signedAt.Unix()), 2)
	assert.Equal(t, float64(2592000), payload["token_exp"])

	t.Run("signature verifies with the public key", func(t *testing.T) {
		parsed, err := jwt.Parse(assertion, func(token *jwt.Token) (interface{}, error) {
			return &key.PrivateKey.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithAudience("https://api.line.me/"))
		require.NoError(t, err)
		assert.True(t, parsed.Valid)
	})
}

func TestRS256Signer_FreshClaimsPerCall(t *testing.T) {
	key := testKeyMaterial(t, "key-1")
	first := time.Unix(1_700_000_000, 0)

	a1, err := RS256Signer{}.Sign(NewClaims("U123", first), key)
	require.NoError(t, err)
	a2, err := RS256Signer{}.Sign(NewClaims("U123", first.Add(time.Minute)), key)
	require.NoError(t, err)

	exp1 := decodeSegment(t, strings.Split(a1, ".")[1])["exp"].(float64)
	exp2 := decodeSegment(t, strings.Split(a2, ".")[1])["exp"].(float64)
	assert.Equal(t, float64(first.Unix()+1800), exp1)
	assert.Equal(t, float64(60), exp2-exp1)
}

func TestRS256Signer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		claims Claims
		key    *KeyMaterial
	}{
		{"nil key", NewClaims("U123", time.Now()), nil},
		{"missing private key", NewClaims("U123", time.Now()), &KeyMaterial{KeyID: "key-1"}},
		{"missing key id", NewClaims("U123", time.Now()), &KeyMaterial{PrivateKey: testPrivateKey(t)}},
		{"missing channel", NewClaims("", time.Now()), testKeyMaterial(t, "key-1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RS256Signer{}.Sign(tt.claims, tt.key)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeSigning))
		})
	}
}
