package channeltoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func testPrivateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
	})
	require.NotNil(t, testKey)
	return testKey
}

func testKeyMaterial(t *testing.T, keyID string) *KeyMaterial {
	return &KeyMaterial{KeyID: keyID, PrivateKey: testPrivateKey(t)}
}

type storeCall struct {
	key   string
	token ChannelAccessToken
	ttl   time.Duration
}

// fakeCache records calls and serves a fixed entry
type fakeCache struct {
	mu        sync.Mutex
	entry     *CacheEntry
	fetchErr  error
	storeErr  error
	fetches   int
	stores    []storeCall
	fetchHook func()
}

func (c *fakeCache) FetchOrCreate(ctx context.Context, key string) (*CacheEntry, error) {
	if c.fetchHook != nil {
		c.fetchHook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches++
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	if c.entry == nil {
		return &CacheEntry{Key: key}, nil
	}
	entry := *c.entry
	return &entry, nil
}

func (c *fakeCache) Store(ctx context.Context, key string, token *ChannelAccessToken, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storeErr != nil {
		return c.storeErr
	}
	c.stores = append(c.stores, storeCall{key: key, token: *token, ttl: ttl})
	c.entry = &CacheEntry{Key: key, Token: *token, IssuedAt: time.Now()}
	return nil
}

type fakeSigner struct {
	mu     sync.Mutex
	calls  []Claims
	keyIDs []string
	err    error
}

func (s *fakeSigner) Sign(claims Claims, key *KeyMaterial) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, claims)
	if key != nil {
		s.keyIDs = append(s.keyIDs, key.KeyID)
	}
	if s.err != nil {
		return "", s.err
	}
	return "header.payload.signature", nil
}

func (s *fakeSigner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeExchanger struct {
	mu         sync.Mutex
	token      ChannelAccessToken
	err        error
	calls      int
	assertions []string
	delay      time.Duration
	block      bool
	// started is closed on the first call; release, when set, holds every
	// call until it is closed
	started     chan struct{}
	startedOnce sync.Once
	release     chan struct{}
}

func (e *fakeExchanger) Exchange(ctx context.Context, assertion string) (*ChannelAccessToken, error) {
	e.mu.Lock()
	e.calls++
	e.assertions = append(e.assertions, assertion)
	delay, block, err, token := e.delay, e.block, e.err, e.token
	e.mu.Unlock()

	if e.started != nil {
		e.startedOnce.Do(func() { close(e.started) })
	}
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (e *fakeExchanger) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
