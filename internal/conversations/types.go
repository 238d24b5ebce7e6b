package conversations

import (
	"encoding/json"
	"strings"
)

const (
	StateActive   = "active"
	StateInactive = "inactive"
	StateClosed   = "closed"

	EventMessageAdded = "onMessageAdded"

	// SourceAPI marks messages created through the REST API, which includes
	// every message the bridge itself posts
	SourceAPI = "API"
)

// Attributes is the free-form JSON object stored on a conversation
type Attributes map[string]interface{}

// ParseAttributes decodes the attributes string Twilio returns. An empty or
// malformed string yields an empty map.
func ParseAttributes(raw string) Attributes {
	attrs := Attributes{}
	if strings.TrimSpace(raw) == "" {
		return attrs
	}
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return Attributes{}
	}
	return attrs
}

// String returns the string value at key, or ""
func (a Attributes) String(key string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// Merge returns a copy of a with every key of other set
func (a Attributes) Merge(other Attributes) Attributes {
	merged := make(Attributes, len(a)+len(other))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

func (a Attributes) encode() (string, error) {
	if a == nil {
		return "{}", nil
	}
	data, err := json.Marshal(a)
	return string(data), err
}

// Conversation is a Conversations API conversation resource
type Conversation struct {
	SID           string `json:"sid"`
	ServiceSID    string `json:"chat_service_sid"`
	FriendlyName  string `json:"friendly_name"`
	State         string `json:"state"`
	RawAttributes string `json:"attributes"`
	UniqueName    string `json:"unique_name,omitempty"`
	DateCreated   string `json:"date_created,omitempty"`
}

// Attributes decodes the conversation attributes
func (c *Conversation) Attributes() Attributes {
	return ParseAttributes(c.RawAttributes)
}

// ParticipantConversation is one entry of the participant conversations list
type ParticipantConversation struct {
	ParticipantSID         string `json:"participant_sid"`
	ParticipantIdentity    string `json:"participant_identity"`
	ConversationSID        string `json:"conversation_sid"`
	ConversationState      string `json:"conversation_state"`
	ConversationAttributes string `json:"conversation_attributes"`
	ConversationFriendly   string `json:"conversation_friendly_name"`
}

// Open reports whether new messages can still be posted to the conversation
func (p ParticipantConversation) Open() bool {
	return p.ConversationState != StateClosed
}

// Participant is a conversation participant resource
type Participant struct {
	SID             string `json:"sid"`
	ConversationSID string `json:"conversation_sid"`
	Identity        string `json:"identity"`
}

// Message is a conversation message resource
type Message struct {
	SID             string `json:"sid"`
	ConversationSID string `json:"conversation_sid"`
	Author          string `json:"author"`
	Body            string `json:"body"`
	Index           int    `json:"index"`
}

// Webhook is a conversation-scoped webhook resource
type Webhook struct {
	SID             string `json:"sid"`
	ConversationSID string `json:"conversation_sid"`
	Target          string `json:"target"`
}

type meta struct {
	NextPageURL string `json:"next_page_url"`
}

type participantConversationPage struct {
	Conversations []ParticipantConversation `json:"conversations"`
	Meta          meta                      `json:"meta"`
}
