package channeltoken

import (
	"context"
	"time"

	"line-flex-bridge/internal/common/errors"
	"line-flex-bridge/internal/common/logging"
)

// DefaultCallTimeout bounds each cache read, cache write and token exchange
const DefaultCallTimeout = 10 * time.Second

// ChannelCredentials identifies the channel a token is requested for and the
// store namespace its cache entry lives in
type ChannelCredentials struct {
	ChannelID      string
	Key            *KeyMaterial
	CacheNamespace string
}

// CredentialService hands out channel access tokens, minting one only when
// the cache has no usable entry.
//
// Freshness is delegated to the store TTL written by StoreTTL: an entry that
// can still be read is trusted. There is no invalidation call; an entry only
// leaves the cache by expiring.
type CredentialService struct {
	cache     TokenCache
	signer    AssertionSigner
	exchanger TokenExchanger
	dedup     MintDeduplicator

	callTimeout      time.Duration
	localExpiryCheck bool
	now              func() time.Time
	logger           logging.Logger
}

// Option configures a CredentialService
type Option func(*CredentialService)

// WithMintDeduplicator enables single-flight minting per cache key
func WithMintDeduplicator(dedup MintDeduplicator) Option {
	return func(s *CredentialService) {
		s.dedup = dedup
	}
}

// WithCallTimeout sets the timeout applied to every network call; zero or
// negative disables it
func WithCallTimeout(timeout time.Duration) Option {
	return func(s *CredentialService) {
		s.callTimeout = timeout
	}
}

// WithLocalExpiryCheck also rejects cached tokens whose issued_at plus
// expires_in has passed. The store TTL remains the primary mechanism.
func WithLocalExpiryCheck() Option {
	return func(s *CredentialService) {
		s.localExpiryCheck = true
	}
}

// WithClock replaces time.Now for claims and expiry checks
func WithClock(now func() time.Time) Option {
	return func(s *CredentialService) {
		s.now = now
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(s *CredentialService) {
		s.logger = logger
	}
}

// NewCredentialService wires the cache, signer and exchanger together. A nil
// signer defaults to RS256Signer.
func NewCredentialService(cache TokenCache, signer AssertionSigner, exchanger TokenExchanger, opts ...Option) *CredentialService {
	if signer == nil {
		signer = RS256Signer{}
	}
	s := &CredentialService{
		cache:       cache,
		signer:      signer,
		exchanger:   exchanger,
		callTimeout: DefaultCallTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.GetGlobalLogger()
	}
	return s
}

// GetToken returns a usable channel access token for creds.
//
// The cache entry is fetched (and created empty if absent). A non-empty
// access token is returned as is. Otherwise a client assertion is signed,
// exchanged at the token endpoint and the result stored with StoreTTL of its
// lifetime before being returned.
//
// Errors carry one of the cache_unavailable, signing_failed or
// token_exchange_failed types. Nothing is retried here; a failed mint leaves
// the cache empty so the next call tries again.
func (s *CredentialService) GetToken(ctx context.Context, creds ChannelCredentials) (*ChannelAccessToken, error) {
	if creds.ChannelID == "" {
		return nil, errors.ValidationError("channel id is required")
	}
	key := CacheKey(creds.CacheNamespace)

	if token, err := s.lookup(ctx, key); err != nil || token != nil {
		return token, err
	}

	mint := func(ctx context.Context) (*ChannelAccessToken, error) {
		return s.mint(ctx, creds, key)
	}
	if s.dedup == nil {
		return mint(ctx)
	}

	return s.dedup.Do(ctx, key, func(ctx context.Context) (*ChannelAccessToken, error) {
		// the previous holder may have stored a token while we waited
		if token, err := s.lookup(ctx, key); err != nil || token != nil {
			return token, err
		}
		return mint(ctx)
	})
}

// lookup returns the cached token, or nil on a miss
func (s *CredentialService) lookup(ctx context.Context, key string) (*ChannelAccessToken, error) {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	entry, err := s.cache.FetchOrCreate(callCtx, key)
	if err != nil {
		return nil, s.classify(err, errors.ErrTypeCacheUnavailable, "token cache read failed")
	}

	if !entry.Token.Valid() {
		s.logger.Debug("Channel access token cache miss", logging.Field{Key: "key", Value: key})
		return nil, nil
	}

	if s.localExpiryCheck && !entry.IssuedAt.IsZero() {
		expiresAt := entry.IssuedAt.Add(entry.Token.Lifetime())
		if !s.now().Before(expiresAt) {
			s.logger.Warn("Cached channel access token outlived its lifetime",
				logging.Field{Key: "key", Value: key},
				logging.Field{Key: "expired_at", Value: expiresAt},
			)
			return nil, nil
		}
	}

	token := entry.Token
	return &token, nil
}

func (s *CredentialService) mint(ctx context.Context, creds ChannelCredentials, key string) (*ChannelAccessToken, error) {
	assertion, err := s.signer.Sign(NewClaims(creds.ChannelID, s.now()), creds.Key)
	if err != nil {
		return nil, s.classify(err, errors.ErrTypeSigning, "failed to sign client assertion")
	}

	exchangeCtx, cancel := s.callContext(ctx)
	token, err := s.exchanger.Exchange(exchangeCtx, assertion)
	cancel()
	if err != nil {
		return nil, s.classify(err, errors.ErrTypeTokenExchange, "token exchange failed")
	}
	if !token.Valid() {
		return nil, errors.TokenExchangeError("token endpoint returned no access token", nil)
	}

	ttl := StoreTTL(token.Lifetime())

	storeCtx, cancel := s.callContext(ctx)
	err = s.cache.Store(storeCtx, key, token, ttl)
	cancel()
	if err != nil {
		return nil, s.classify(err, errors.ErrTypeCacheUnavailable, "token cache write failed")
	}

	s.logger.Info("Minted channel access token",
		logging.Field{Key: "channel_id", Value: creds.ChannelID},
		logging.Field{Key: "key", Value: key},
		logging.Field{Key: "expires_in", Value: token.ExpiresIn},
		logging.Field{Key: "cache_ttl", Value: ttl.String()},
	)
	return token, nil
}

func (s *CredentialService) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

// classify keeps typed errors from collaborators and wraps anything else
// (including context timeouts) in the step's error type
func (s *CredentialService) classify(err error, errType errors.ErrorType, msg string) error {
	if errors.IsType(err, errType) {
		return err
	}
	return &errors.AppError{Type: errType, Message: msg, Cause: err}
}

// TokenSource yields a bearer token for API clients
type TokenSource interface {
	Token(ctx context.Context) (*ChannelAccessToken, error)
}

// BoundSource is a TokenSource for one fixed set of channel credentials
type BoundSource struct {
	service     *CredentialService
	credentials ChannelCredentials
}

// Source binds creds to the service
func (s *CredentialService) Source(creds ChannelCredentials) *BoundSource {
	return &BoundSource{service: s, credentials: creds}
}

func (b *BoundSource) Token(ctx context.Context) (*ChannelAccessToken, error) {
	return b.service.GetToken(ctx, b.credentials)
}
