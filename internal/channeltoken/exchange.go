package channeltoken

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"line-flex-bridge/internal/circuitbreaker"
	"line-flex-bridge/internal/common/errors"
	commonhttp "line-flex-bridge/internal/common/http"
	"line-flex-bridge/internal/common/logging"
)

const (
	grantTypeClientCredentials = "client_credentials"
	assertionTypeJWTBearer     = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

// TokenExchanger trades a signed assertion for a channel access token
type TokenExchanger interface {
	Exchange(ctx context.Context, assertion string) (*ChannelAccessToken, error)
}

// ExchangeClient calls the LINE token endpoint through a circuit breaker
type ExchangeClient struct {
	tokenURL   string
	httpClient *http.Client
	breaker    *circuitbreaker.GoBreakerAdapter
	logger     logging.Logger
}

var _ TokenExchanger = (*ExchangeClient)(nil)

// ExchangeOption configures an ExchangeClient
type ExchangeOption func(*ExchangeClient)

// WithTokenURL overrides DefaultTokenURL
func WithTokenURL(tokenURL string) ExchangeOption {
	return func(c *ExchangeClient) {
		c.tokenURL = tokenURL
	}
}

// WithHTTPClient replaces the default pooled client
func WithHTTPClient(client *http.Client) ExchangeOption {
	return func(c *ExchangeClient) {
		c.httpClient = client
	}
}

// WithExchangeLogger sets the logger; the global logger is used otherwise
func WithExchangeLogger(logger logging.Logger) ExchangeOption {
	return func(c *ExchangeClient) {
		c.logger = logger
	}
}

// WithBreaker replaces the default token endpoint circuit breaker
func WithBreaker(breaker *circuitbreaker.GoBreakerAdapter) ExchangeOption {
	return func(c *ExchangeClient) {
		c.breaker = breaker
	}
}

func NewExchangeClient(opts ...ExchangeOption) *ExchangeClient {
	c := &ExchangeClient{
		tokenURL:   DefaultTokenURL,
		httpClient: commonhttp.NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.GetGlobalLogger()
	}
	if c.breaker == nil {
		config := circuitbreaker.TokenEndpointConfig
		// a rejected assertion is a caller problem, not an outage
		config.IsSuccessful = func(err error) bool {
			var statusErr *commonhttp.StatusError
			return err == nil || (stderrors.As(err, &statusErr) && statusErr.StatusCode < 500)
		}
		c.breaker = circuitbreaker.NewGoBreaker("line-token-endpoint", config, c.logger)
	}
	return c
}

// Exchange posts the assertion as a client-credentials grant. Any non-2xx
// status, transport error, open breaker or unreadable body is a
// token_exchange_failed error; the body of a failed response is not parsed.
func (c *ExchangeClient) Exchange(ctx context.Context, assertion string) (*ChannelAccessToken, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeClientCredentials)
	form.Set("client_assertion_type", assertionTypeJWTBearer)
	form.Set("client_assertion", assertion)

	var token ChannelAccessToken
	err := c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if !commonhttp.IsSuccess(resp.StatusCode) {
			_, _ = io.Copy(io.Discard, resp.Body)
			return &commonhttp.StatusError{Method: req.Method, URL: c.tokenURL, StatusCode: resp.StatusCode}
		}
		return json.NewDecoder(resp.Body).Decode(&token)
	})
	if err != nil {
		appErr := errors.TokenExchangeError("token endpoint request failed", err)
		var statusErr *commonhttp.StatusError
		if stderrors.As(err, &statusErr) {
			appErr.WithContext("status", statusErr.StatusCode)
		}
		c.logger.Warn("Channel access token exchange failed",
			logging.Field{Key: "token_url", Value: c.tokenURL},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return nil, appErr
	}

	if !token.Valid() {
		return nil, errors.TokenExchangeError("token endpoint response has no access_token", nil)
	}
	return &token, nil
}
