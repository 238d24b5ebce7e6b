package line

// WebhookPayload is the body LINE posts to the webhook endpoint
type WebhookPayload struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is a single webhook event. Only the fields the bridge reads are decoded.
type Event struct {
	Type       string        `json:"type"`
	Mode       string        `json:"mode,omitempty"`
	Timestamp  int64         `json:"timestamp"`
	ReplyToken string        `json:"replyToken,omitempty"`
	Source     EventSource   `json:"source"`
	Message    *EventMessage `json:"message,omitempty"`
}

// EventSource identifies who triggered the event
type EventSource struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// EventMessage is the message object of a "message" event
type EventMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

const (
	EventTypeMessage = "message"
	SourceTypeUser   = "user"
	MessageTypeText  = "text"
)

// IsUserMessage reports whether e is a message sent by a user in a 1:1 chat
func (e Event) IsUserMessage() bool {
	return e.Type == EventTypeMessage && e.Source.Type == SourceTypeUser && e.Source.UserID != "" && e.Message != nil
}

// Body is the text forwarded to the agent. Non-text messages are replaced
// with a placeholder naming their type.
func (m *EventMessage) Body() string {
	if m.Type == MessageTypeText {
		return m.Text
	}
	return "[" + m.Type + " message]"
}

// Profile is a LINE user profile
type Profile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
	Language      string `json:"language,omitempty"`
}

// TextMessage is an outbound text message
type TextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTextMessage builds an outbound text message
func NewTextMessage(text string) TextMessage {
	return TextMessage{Type: MessageTypeText, Text: text}
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []TextMessage `json:"messages"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []TextMessage `json:"messages"`
}
