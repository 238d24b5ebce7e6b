package channeltoken

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"line-flex-bridge/internal/circuitbreaker"
	"line-flex-bridge/internal/common/errors"
	"line-flex-bridge/internal/common/logging"
)

func newTestExchangeClient(serverURL string, opts ...ExchangeOption) *ExchangeClient {
	opts = append([]ExchangeOption{
		WithTokenURL(serverURL + "/oauth2/v2.1/token"),
		WithExchangeLogger(logging.NewNopLogger()),
	}, opts...)
	return NewExchangeClient(opts...)
}

func TestExchangeClient_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/oauth2/v2.1/token", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		assert.NoError(t, r.ParseForm())
		assert.Len(t, r.PostForm, 3)
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "urn:ietf:params:oauth:client-assertion-type:jwt-bearer", r.PostForm.Get("client_assertion_type"))
		assert.Equal(t, "a.b.c", r.PostForm.Get("client_assertion"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"eyJhbGciOiJIUz.token","token_type":"Bearer","expires_in":2592000,"key_id":"sDTOzw5wIfxxxxPEzcmeQA"}`))
	}))
	defer server.Close()

	token, err := newTestExchangeClient(server.URL).Exchange(context.Background(), "a.b.c")
	require.NoError(t, err)
	assert.Equal(t, ChannelAccessToken{
		AccessToken: "eyJhbGciOiJIUz.token",
		TokenType:   "Bearer",
		ExpiresIn:   2592000,
		KeyID:       "sDTOzw5wIfxxxxPEzcmeQA",
	}, *token)
}

func TestExchangeClient_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"rejected assertion", http.StatusBadRequest, `{"error":"invalid_client","error_description":"Invalid signature"}`},
		{"unauthorized", http.StatusUnauthorized, `{"error":"invalid_client"}`},
		{"server error", http.StatusInternalServerError, `oops`},
		{"success status with malformed json", http.StatusOK, `{"access_token":`},
		{"success without access token", http.StatusOK, `{"token_type":"Bearer","expires_in":3600}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			token, err := newTestExchangeClient(server.URL).Exchange(context.Background(), "a.b.c")
			require.Error(t, err)
			assert.Nil(t, token)
			assert.True(t, errors.IsType(err, errors.ErrTypeTokenExchange), "got %v", err)
		})
	}
}

func TestExchangeClient_StatusInContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestExchangeClient(server.URL).Exchange(context.Background(), "a.b.c")
	require.Error(t, err)

	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, 400, appErr.Context["status"])
}

func TestExchangeClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	breaker := circuitbreaker.NewGoBreaker("test-token-endpoint", circuitbreaker.Config{
		MaxFailures:           2,
		Timeout:               time.Minute,
		MaxConcurrentRequests: 1,
	}, logging.NewNopLogger())
	client := newTestExchangeClient(server.URL, WithBreaker(breaker))

	for i := 0; i < 3; i++ {
		_, err := client.Exchange(context.Background(), "a.b.c")
		assert.True(t, errors.IsType(err, errors.ErrTypeTokenExchange))
	}
	assert.Equal(t, int32(2), hits.Load())
	assert.True(t, breaker.IsOpen())
}

func TestExchangeClient_ClientErrorsDoNotTripDefaultBreaker(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestExchangeClient(server.URL)
	for i := 0; i < 8; i++ {
		_, _ = client.Exchange(context.Background(), "a.b.c")
	}
	assert.Equal(t, int32(8), hits.Load())
}

func TestExchangeClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestExchangeClient(server.URL).Exchange(ctx, "a.b.c")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTokenExchange))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
