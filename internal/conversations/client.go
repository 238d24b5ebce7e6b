// Package conversations is a Twilio Conversations REST client scoped to the
// Flex conversation service.
package conversations

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"

	"line-flex-bridge/internal/circuitbreaker"
	"line-flex-bridge/internal/common/errors"
	commonhttp "line-flex-bridge/internal/common/http"
	"line-flex-bridge/internal/common/logging"
)

// DefaultBaseURL is the Conversations API v1 root
const DefaultBaseURL = "https://conversations.twilio.com/v1"

// API is the set of Conversations operations the bridge performs
type API interface {
	ListParticipantConversations(ctx context.Context, identity string) ([]ParticipantConversation, error)
	CreateConversation(ctx context.Context, friendlyName string, attrs Attributes) (*Conversation, error)
	FetchConversation(ctx context.Context, conversationSID string) (*Conversation, error)
	UpdateAttributes(ctx context.Context, conversationSID string, attrs Attributes) (*Conversation, error)
	AddParticipant(ctx context.Context, conversationSID, identity string) (*Participant, error)
	AddStudioWebhook(ctx context.Context, conversationSID, flowSID string) (*Webhook, error)
	AddWebhook(ctx context.Context, conversationSID, targetURL string) (*Webhook, error)
	CreateMessage(ctx context.Context, conversationSID, author, body string) (*Message, error)
}

// Client calls the service-scoped Conversations endpoints with HTTP basic
// auth (account SID and auth token)
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	serviceSID string
	httpClient *http.Client
	breaker    *circuitbreaker.GoBreakerAdapter
	logger     logging.Logger
}

var _ API = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
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

// NewClient creates a client for the conversation service serviceSID
func NewClient(accountSID, authToken, serviceSID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		accountSID: accountSID,
		authToken:  authToken,
		serviceSID: serviceSID,
		httpClient: commonhttp.NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.GetGlobalLogger()
	}
	config := circuitbreaker.APIConfig
	config.IsSuccessful = func(err error) bool {
		status := StatusCode(err)
		return err == nil || (status >= 400 && status < 500)
	}
	c.breaker = circuitbreaker.NewGoBreaker("twilio-conversations", config, c.logger)
	return c
}

func (c *Client) servicePath(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + "/Services/" + url.PathEscape(c.serviceSID) + "/" + strings.Join(escaped, "/")
}

// ListParticipantConversations lists every conversation the identity takes
// part in, following pagination
func (c *Client) ListParticipantConversations(ctx context.Context, identity string) ([]ParticipantConversation, error) {
	query := url.Values{}
	query.Set("Identity", identity)
	query.Set("PageSize", "50")
	next := c.servicePath("ParticipantConversations") + "?" + query.Encode()

	var all []ParticipantConversation
	for next != "" {
		var page participantConversationPage
		if err := c.do(ctx, http.MethodGet, next, nil, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Conversations...)
		next = page.Meta.NextPageURL
	}
	return all, nil
}

func (c *Client) CreateConversation(ctx context.Context, friendlyName string, attrs Attributes) (*Conversation, error) {
	encoded, err := attrs.encode()
	if err != nil {
		return nil, errors.InternalError("failed to encode conversation attributes", err)
	}
	form := url.Values{}
	form.Set("FriendlyName", friendlyName)
	form.Set("Attributes", encoded)

	var conv Conversation
	if err := c.do(ctx, http.MethodPost, c.servicePath("Conversations"), form, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) FetchConversation(ctx context.Context, conversationSID string) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodGet, c.servicePath("Conversations", conversationSID), nil, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// UpdateAttributes replaces the attributes of a conversation
func (c *Client) UpdateAttributes(ctx context.Context, conversationSID string, attrs Attributes) (*Conversation, error) {
	encoded, err := attrs.encode()
	if err != nil {
		return nil, errors.InternalError("failed to encode conversation attributes", err)
	}
	form := url.Values{}
	form.Set("Attributes", encoded)

	var conv Conversation
	if err := c.do(ctx, http.MethodPost, c.servicePath("Conversations", conversationSID), form, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) AddParticipant(ctx context.Context, conversationSID, identity string) (*Participant, error) {
	form := url.Values{}
	form.Set("Identity", identity)

	var p Participant
	if err := c.do(ctx, http.MethodPost, c.servicePath("Conversations", conversationSID, "Participants"), form, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// AddStudioWebhook routes onMessageAdded events of the conversation into a Studio flow
func (c *Client) AddStudioWebhook(ctx context.Context, conversationSID, flowSID string) (*Webhook, error) {
	form := url.Values{}
	form.Set("Target", "studio")
	form.Set("Configuration.FlowSid", flowSID)
	form.Add("Configuration.Filters", EventMessageAdded)
	return c.addWebhook(ctx, conversationSID, form)
}

// AddWebhook posts onMessageAdded events of the conversation to targetURL
func (c *Client) AddWebhook(ctx context.Context, conversationSID, targetURL string) (*Webhook, error) {
	form := url.Values{}
	form.Set("Target", "webhook")
	form.Set("Configuration.Url", targetURL)
	form.Set("Configuration.Method", http.MethodPost)
	form.Add("Configuration.Filters", EventMessageAdded)
	return c.addWebhook(ctx, conversationSID, form)
}

func (c *Client) addWebhook(ctx context.Context, conversationSID string, form url.Values) (*Webhook, error) {
	var w Webhook
	if err := c.do(ctx, http.MethodPost, c.servicePath("Conversations", conversationSID, "Webhooks"), form, nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateMessage posts a message with webhooks enabled, so the Studio flow
// and Flex see it
func (c *Client) CreateMessage(ctx context.Context, conversationSID, author, body string) (*Message, error) {
	form := url.Values{}
	form.Set("Author", author)
	form.Set("Body", body)
	headers := http.Header{}
	headers.Set("X-Twilio-Webhook-Enabled", "true")

	var m Message
	if err := c.do(ctx, http.MethodPost, c.servicePath("Conversations", conversationSID, "Messages"), form, headers, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) do(ctx context.Context, method, target string, form url.Values, headers http.Header, out interface{}) error {
	err := c.breaker.Execute(ctx, func() error {
		var body *strings.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		} else {
			body = strings.NewReader("")
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.accountSID, c.authToken)
		req.Header.Set("Accept", "application/json")
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		for k, v := range headers {
			req.Header[k] = v
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return commonhttp.DecodeJSON(resp, out)
	})
	if err != nil {
		c.logger.Warn("Conversations API call failed",
			logging.Field{Key: "method", Value: method},
			logging.Field{Key: "url", Value: target},
			logging.Field{Key: "error", Value: err.Error()},
		)
		appErr := errors.UpstreamError("Conversations API call failed", err)
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
