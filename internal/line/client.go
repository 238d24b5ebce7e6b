// Package line is a small LINE Messaging API client authenticated with
// channel access tokens from the token service.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/url"

	"line-flex-bridge/internal/channeltoken"
	"line-flex-bridge/internal/circuitbreaker"
	"line-flex-bridge/internal/common/errors"
	commonhttp "line-flex-bridge/internal/common/http"
	"line-flex-bridge/internal/common/logging"
)

// DefaultAPIBaseURL is the Messaging API host
const DefaultAPIBaseURL = "https://api.line.me"

// Messenger is the part of the Messaging API the bridge uses
type Messenger interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	Reply(ctx context.Context, replyToken string, messages ...TextMessage) error
	Push(ctx context.Context, to string, messages ...TextMessage) error
}

// Client calls the Messaging API
type Client struct {
	baseURL    string
	tokens     channeltoken.TokenSource
	httpClient *http.Client
	breaker    *circuitbreaker.GoBreakerAdapter
	logger     logging.Logger
}

var _ Messenger = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Messaging API client that authenticates every call
// with a token obtained from tokens
func NewClient(tokens channeltoken.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultAPIBaseURL,
		tokens:     tokens,
		httpClient: commonhttp.NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.GetGlobalLogger()
	}
	config := circuitbreaker.APIConfig
	config.IsSuccessful = clientErrorIsSuccess
	c.breaker = circuitbreaker.NewGoBreaker("line-messaging-api", config, c.logger)
	return c
}

// GetProfile fetches the profile of a user who has added the channel as a friend
func (c *Client) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodGet, "/v2/bot/profile/"+url.PathEscape(userID), nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Reply answers a webhook event. Reply tokens are single use and expire
// shortly after the event; LINE answers 400 for a stale one.
func (c *Client) Reply(ctx context.Context, replyToken string, messages ...TextMessage) error {
	return c.do(ctx, http.MethodPost, "/v2/bot/message/reply", replyRequest{ReplyToken: replyToken, Messages: messages}, nil)
}

// Push sends messages to a user at any time
func (c *Client) Push(ctx context.Context, to string, messages ...TextMessage) error {
	return c.do(ctx, http.MethodPost, "/v2/bot/message/push", pushRequest{To: to, Messages: messages}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var payload []byte
	if in != nil {
		if payload, err = json.Marshal(in); err != nil {
			return errors.InternalError("failed to encode LINE request", err)
		}
	}

	err = c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", token.AuthorizationHeader())
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return commonhttp.DecodeJSON(resp, out)
	})
	if err != nil {
		c.logger.Warn("LINE Messaging API call failed",
			logging.Field{Key: "method", Value: method},
			logging.Field{Key: "path", Value: path},
			logging.Field{Key: "error", Value: err.Error()},
		)
		appErr := errors.UpstreamError("LINE Messaging API call failed", err)
		if status := StatusCode(err); status != 0 {
			appErr.WithContext("status", status)
		}
		return appErr
	}
	return nil
}

// StatusCode returns the HTTP status of a failed API call, or 0
func StatusCode(err error) int {
	var statusErr *commonhttp.StatusError
	if stderrors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

func clientErrorIsSuccess(err error) bool {
	status := StatusCode(err)
	return err == nil || (status >= 400 && status < 500)
}
