// Package channeltoken issues and caches LINE channel access tokens (v2.1).
//
// A token is minted with the OAuth2 client-credentials grant authenticated by a
// JWT assertion (RFC 7523) signed with the channel's RSA assertion key, then
// kept in a shared document store under a well-known key with a TTL one day
// shorter than the token's lifetime. Every webhook invocation goes through
// CredentialService.GetToken; only a cache miss reaches the token endpoint.
package channeltoken

import (
	"time"
)

const (
	// WellKnownKey is the document key holding the cached token
	WellKnownKey = "line-channel-access-token"

	// DefaultTokenURL is the LINE OAuth2 v2.1 token endpoint
	DefaultTokenURL = "https://api.line.me/oauth2/v2.1/token"

	// Audience is the aud claim LINE expects in client assertions
	Audience = "https://api.line.me/"

	// AssertionLifetime bounds how long a signed assertion is accepted
	AssertionLifetime = 30 * time.Minute

	// RequestedTokenLifetime is sent as token_exp; 30 days is the LINE maximum
	RequestedTokenLifetime = 30 * 24 * time.Hour

	// RefreshMargin is subtracted from the token lifetime to get the cache TTL
	RefreshMargin = 24 * time.Hour
)

// ChannelAccessToken is the token endpoint response and the cached payload
type ChannelAccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	// ExpiresIn is the validity window in seconds from issuance
	ExpiresIn int64 `json:"expires_in"`
	// KeyID is the identifier of the signing key the token was minted with,
	// kept for traceability
	KeyID string `json:"key_id"`
}

// Valid reports whether t carries an access token at all
func (t *ChannelAccessToken) Valid() bool {
	return t != nil && t.AccessToken != ""
}

// Lifetime returns the declared validity window, falling back to the
// requested lifetime when the provider omitted expires_in
func (t *ChannelAccessToken) Lifetime() time.Duration {
	if t.ExpiresIn <= 0 {
		return RequestedTokenLifetime
	}
	return time.Duration(t.ExpiresIn) * time.Second
}

// AuthorizationHeader formats the token for an Authorization header
func (t *ChannelAccessToken) AuthorizationHeader() string {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return tokenType + " " + t.AccessToken
}

// CacheEntry is a token document as read from the store
type CacheEntry struct {
	Key   string
	Token ChannelAccessToken
	// IssuedAt is when this bridge received the token; zero for entries
	// written by older writers or freshly created empty documents
	IssuedAt time.Time
}

// CacheKey returns the document key for a namespace. An empty namespace
// yields the bare well-known key.
func CacheKey(namespace string) string {
	if namespace == "" {
		return WellKnownKey
	}
	return namespace + ":" + WellKnownKey
}

// StoreTTL computes the cache TTL for a token lifetime.
//
// The entry must vanish before LINE stops honouring the token, so the TTL is
// lifetime minus RefreshMargin. Lifetimes of one day or less cannot absorb the
// margin; those are cached for half their lifetime instead, with a floor of
// one second so the store never receives a zero (persistent) TTL.
func StoreTTL(lifetime time.Duration) time.Duration {
	ttl := lifetime - RefreshMargin
	if ttl <= 0 {
		ttl = lifetime / 2
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}
