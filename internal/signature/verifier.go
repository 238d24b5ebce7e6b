// Package signature verifies the HMAC signatures LINE and Twilio attach to
// their webhook deliveries.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"hash"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"line-flex-bridge/internal/common/errors"
	"line-flex-bridge/internal/common/logging"
)

const (
	LineSignatureHeader   = "X-Line-Signature"
	TwilioSignatureHeader = "X-Twilio-Signature"
)

// Verifier checks a request against the signature its sender attached
type Verifier interface {
	Verify(r *http.Request, body []byte) error
}

// LineVerifier validates X-Line-Signature: base64(HMAC-SHA256(channelSecret, body))
type LineVerifier struct {
	channelSecret string
	logger        logging.Logger
}

// NewLineVerifier creates a verifier for LINE Messaging API webhooks
func NewLineVerifier(channelSecret string, logger logging.Logger) *LineVerifier {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &LineVerifier{channelSecret: channelSecret, logger: logger}
}

func (v *LineVerifier) Verify(r *http.Request, body []byte) error {
	return verify(v.logger, LineSignatureHeader, r.Header.Get(LineSignatureHeader), body, v.channelSecret, sha256.New)
}

// TwilioVerifier validates X-Twilio-Signature for form-encoded callbacks.
// Twilio signs the full public URL followed by every POST parameter, sorted
// by name, with each name immediately followed by its value.
type TwilioVerifier struct {
	authToken string
	publicURL string
	logger    logging.Logger
}

// NewTwilioVerifier creates a verifier. publicBaseURL replaces the scheme and
// host of incoming requests, since a proxy in front of the bridge hides them.
func NewTwilioVerifier(authToken, publicBaseURL string, logger logging.Logger) *TwilioVerifier {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &TwilioVerifier{
		authToken: authToken,
		publicURL: strings.TrimRight(publicBaseURL, "/"),
		logger:    logger,
	}
}

func (v *TwilioVerifier) Verify(r *http.Request, body []byte) error {
	params, err := url.ParseQuery(string(body))
	if err != nil {
		return NewVerificationError(TwilioSignatureHeader, "malformed form body: %v", err)
	}
	input := TwilioSignatureInput(v.publicURL+r.URL.RequestURI(), params)
	return verify(v.logger, TwilioSignatureHeader, r.Header.Get(TwilioSignatureHeader), input, v.authToken, sha1.New)
}

// TwilioSignatureInput builds the string Twilio signs for a POST callback
func TwilioSignatureInput(fullURL string, params url.Values) []byte {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, value := range values {
			b.WriteString(k)
			b.WriteString(value)
		}
	}
	return []byte(b.String())
}

// Sign computes base64(HMAC(secret, data)) with the given hash
func Sign(data []byte, secret string, newHash func() hash.Hash) string {
	h := hmac.New(newHash, []byte(secret))
	h.Write(data)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func verify(logger logging.Logger, header, got string, data []byte, secret string, newHash func() hash.Hash) error {
	if secret == "" {
		return errors.ConfigError("no signing secret configured for " + header)
	}
	if got == "" {
		return NewVerificationError(header, "missing signature header")
	}

	expected := Sign(data, secret, newHash)

	// Compare signatures (constant time)
	if !hmac.Equal([]byte(got), []byte(expected)) {
		logger.Warn("Signature verification failed", logging.Field{Key: "header", Value: header})
		return NewVerificationError(header, "signature mismatch")
	}
	return nil
}

// PreserveRequestBody reads and preserves the request body for signature verification
func PreserveRequestBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	r.Body = io.NopCloser(bytes.NewReader(body))

	return body, nil
}
