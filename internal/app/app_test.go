package app

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"line-flex-bridge/internal/config"
)

func testKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
}

func testConfig(t *testing.T, lineURL, twilioURL string) *config.Config {
	return &config.Config{
		Port:                       "0",
		PublicBaseURL:              "https://bridge.example.com",
		LineChannelID:              "1650000000",
		LineAssertionKeyID:         "kid-1",
		LinePrivateKey:             testKeyPEM(t),
		LineTokenURL:               lineURL + "/oauth2/v2.1/token",
		LineAPIBaseURL:             lineURL,
		TokenCacheBackend:          config.BackendSQLite,
		TokenCacheNamespace:        "test",
		TokenCacheEncryptionKey:    "cache-passphrase",
		TokenMintDedup:             config.DedupLocal,
		TokenPurgeSchedule:         "@hourly",
		TokenCallTimeout:           5 * time.Second,
		DatabasePath:               filepath.Join(t.TempDir(), "tokens.db"),
		TwilioAccountSID:           "AC0123456789abcdef0123456789abcdef",
		TwilioAuthToken:            "twilio-token",
		TwilioConversationsBaseURL: twilioURL,
		FlexConversationServiceSID: "IS123",
		FlexStudioFlowSID:          "FW123",
	}
}

// fakeLine serves the token endpoint and the Messaging API
type fakeLine struct {
	mints   atomic.Int32
	mu      sync.Mutex
	replies []string
}

func (f *fakeLine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/oauth2/v2.1/token":
		f.mints.Add(1)
		fmt.Fprint(w, `{"access_token":"line-token","token_type":"Bearer","expires_in":2592000,"key_id":"kid-1"}`)
	case r.Header.Get("Authorization") != "Bearer line-token":
		w.WriteHeader(http.StatusUnauthorized)
	case strings.HasPrefix(r.URL.Path, "/v2/bot/profile/"):
		fmt.Fprint(w, `{"userId":"U1","displayName":"Taro"}`)
	case r.URL.Path == "/v2/bot/message/reply":
		var body struct {
			ReplyToken string `json:"replyToken"`
			Messages   []struct {
				Text string `json:"text"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.replies = append(f.replies, body.ReplyToken+":"+body.Messages[0].Text)
		f.mu.Unlock()
		fmt.Fprint(w, `{}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// fakeTwilio keeps one conversation in memory
type fakeTwilio struct {
	mu         sync.Mutex
	attributes string
	calls      []string
}

func (f *fakeTwilio) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	switch r.URL.Path {
	case "/Services/IS123/ParticipantConversations":
		fmt.Fprint(w, `{"conversations":[],"meta":{}}`)
	case "/Services/IS123/Conversations":
		f.attributes = r.PostForm.Get("Attributes")
		fmt.Fprint(w, `{"sid":"CH1","state":"active"}`)
	case "/Services/IS123/Conversations/CH1":
		out, _ := json.Marshal(map[string]string{"sid": "CH1", "attributes": f.attributes})
		_, _ = w.Write(out)
	default:
		fmt.Fprint(w, `{"sid":"XX1"}`)
	}
}

func TestApp_EndToEnd(t *testing.T) {
	lineAPI := &fakeLine{}
	lineServer := httptest.NewServer(lineAPI)
	defer lineServer.Close()
	twilio := &fakeTwilio{}
	twilioServer := httptest.NewServer(twilio)
	defer twilioServer.Close()

	app, err := New(context.Background(), testConfig(t, lineServer.URL, twilioServer.URL))
	require.NoError(t, err)
	defer app.Cleanup()
	handler := app.Handler()

	inbound := `{"destination":"Ubot","events":[{"type":"message","replyToken":"rt-1","source":{"type":"user","userId":"U1"},"message":{"id":"1","type":"text","text":"hello"}}]}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/line/webhook", strings.NewReader(inbound)))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{
		"GET /Services/IS123/ParticipantConversations",
		"POST /Services/IS123/Conversations",
		"POST /Services/IS123/Conversations/CH1/Participants",
		"POST /Services/IS123/Conversations/CH1/Webhooks",
		"POST /Services/IS123/Conversations/CH1/Webhooks",
		"POST /Services/IS123/Conversations/CH1/Messages",
	}, twilio.calls)
	assert.JSONEq(t, `{"replyToken":"rt-1","lineUserId":"U1"}`, twilio.attributes)

	form := url.Values{
		"EventType":       {"onMessageAdded"},
		"Source":          {"SDK"},
		"ConversationSid": {"CH1"},
		"Body":            {"hi, this is support"},
	}
	req := httptest.NewRequest(http.MethodPost, "/conversations/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"rt-1:hi, this is support"}, lineAPI.replies)
	assert.Equal(t, int32(1), lineAPI.mints.Load(), "the cached token serves both calls")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cache_backend":"sqlite"`)
}

func TestApp_InvalidKey(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.LinePrivateKey = "not a key"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertion key")
}

func TestApp_SchedulerJobs(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.TokenPrewarmSchedule = "@every 6h"

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Cleanup()

	// prewarm plus purge of the sqlite store
	assert.Equal(t, 2, app.Scheduler.Jobs())
}

func TestApp_Backends(t *testing.T) {
	lineAPI := &fakeLine{}
	lineServer := httptest.NewServer(lineAPI)
	defer lineServer.Close()

	t.Run("memory", func(t *testing.T) {
		cfg := testConfig(t, lineServer.URL, "http://127.0.0.1:1")
		cfg.TokenCacheBackend = config.BackendMemory

		app, err := New(context.Background(), cfg)
		require.NoError(t, err)
		defer app.Cleanup()

		assert.Equal(t, "memory", app.Store.Name())
		assert.Equal(t, 1, app.Scheduler.Jobs())

		before := lineAPI.mints.Load()
		for i := 0; i < 3; i++ {
			token, err := app.Tokens.GetToken(context.Background(), app.Credentials)
			require.NoError(t, err)
			assert.Equal(t, "line-token", token.AccessToken)
		}
		assert.Equal(t, before+1, lineAPI.mints.Load())
	})

	t.Run("redis with distributed dedup", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig(t, lineServer.URL, "http://127.0.0.1:1")
		cfg.TokenCacheBackend = config.BackendRedis
		cfg.TokenMintDedup = config.DedupDistributed
		cfg.RedisAddress = mr.Addr()
		cfg.RedisPoolSize = 5

		app, err := New(context.Background(), cfg)
		require.NoError(t, err)
		defer app.Cleanup()

		assert.Equal(t, "redis", app.Store.Name())
		assert.Equal(t, 0, app.Scheduler.Jobs())

		_, err = app.Tokens.GetToken(context.Background(), app.Credentials)
		require.NoError(t, err)
		assert.True(t, mr.Exists("test:line-channel-access-token"))
		assert.Greater(t, mr.TTL("test:line-channel-access-token"), time.Duration(0))
	})
}

func TestApp_LocalExpiryCheck(t *testing.T) {
	lineAPI := &fakeLine{}
	lineServer := httptest.NewServer(lineAPI)
	defer lineServer.Close()

	stale := fmt.Sprintf(`{"access_token":"stale-token","token_type":"Bearer","expires_in":60,"issued_at":%d}`,
		time.Now().Add(-time.Hour).Unix())

	for _, enabled := range []bool{false, true} {
		t.Run(fmt.Sprintf("enabled=%v", enabled), func(t *testing.T) {
			cfg := testConfig(t, lineServer.URL, "http://127.0.0.1:1")
			cfg.TokenCacheBackend = config.BackendMemory
			cfg.TokenCacheEncryptionKey = ""
			cfg.TokenLocalExpiryCheck = enabled

			app, err := New(context.Background(), cfg)
			require.NoError(t, err)
			defer app.Cleanup()
			require.NoError(t, app.Store.Update(context.Background(), "test:line-channel-access-token", []byte(stale), 0))

			before := lineAPI.mints.Load()
			token, err := app.Tokens.GetToken(context.Background(), app.Credentials)
			require.NoError(t, err)

			if enabled {
				assert.Equal(t, "line-token", token.AccessToken)
				assert.Equal(t, before+1, lineAPI.mints.Load())
			} else {
				assert.Equal(t, "stale-token", token.AccessToken)
				assert.Equal(t, before, lineAPI.mints.Load())
			}
		})
	}
}
