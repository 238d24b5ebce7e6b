package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "basic error",
			appError: ConfigError("LINE_CHANNEL_ID is required"),
			want:     "config: LINE_CHANNEL_ID is required",
		},
		{
			name:     "error with code",
			appError: ValidationError("ConversationSid is required").WithCode("VAL001"),
			want:     "validation: ConversationSid is required: code=VAL001",
		},
		{
			name:     "error with cause",
			appError: CacheUnavailableError("failed to fetch token document", stderrors.New("dial tcp: refused")),
			want:     "cache_unavailable: failed to fetch token document: cause=dial tcp: refused",
		},
		{
			name: "error with sorted context",
			appError: TokenExchangeError("token endpoint returned failure", nil).
				WithContext("status", 400).
				WithContext("endpoint", "https://api.line.me/oauth2/v2.1/token"),
			want: "token_exchange_failed: token endpoint returned failure: context={endpoint=https://api.line.me/oauth2/v2.1/token, status=400}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.appError.Error())
		})
	}
}

func TestIsType(t *testing.T) {
	cause := stderrors.New("bad key")
	signing := SigningError("failed to sign assertion", cause)

	assert.True(t, IsType(signing, ErrTypeSigning))
	assert.False(t, IsType(signing, ErrTypeTokenExchange))
	assert.True(t, stderrors.Is(signing, cause))

	wrapped := fmt.Errorf("reply to user: %w", signing)
	assert.True(t, IsType(wrapped, ErrTypeSigning))

	nested := UpstreamError("LINE reply failed", CacheUnavailableError("redis down", nil))
	assert.True(t, IsType(nested, ErrTypeUpstream))
	assert.True(t, IsType(nested, ErrTypeCacheUnavailable))

	assert.False(t, IsType(nil, ErrTypeSigning))
	assert.False(t, IsType(stderrors.New("plain"), ErrTypeInternal))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrorType(""), GetType(nil))
	assert.Equal(t, ErrTypeInternal, GetType(stderrors.New("plain")))
	assert.Equal(t, ErrTypeConfig, GetType(ConfigError("no signing secret")))
	assert.Equal(t, ErrTypeTokenExchange, GetType(fmt.Errorf("wrap: %w", TokenExchangeError("x", nil))))
}
