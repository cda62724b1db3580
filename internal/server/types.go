package server

import (
	"strings"

	"github.com/goccy/go-json"
)

// Inbound event types.
const (
	EventSetCoords   = "setCoords"
	EventSetLocation = "setLocation"
	EventChatMessage = "chatMessage"
)

// Outbound event types.
const (
	EventWelcome        = "welcome"
	EventChatHistory    = "chatHistory"
	EventPlaylistUpdate = "playlistUpdate"
	EventLiveUsers      = "liveUsers"
	EventUserCount      = "userCount"
	EventOnlineUsers    = "onlineUsers"
	EventWhisper        = "whisper"
	EventError          = "error"
)

// User-facing error texts.
const (
	ErrTextTooManyLocationChanges = "Too many location changes"
	ErrTextInvalidLocation        = "Invalid location"
	ErrTextInvalidMessage         = "Invalid message format"
	ErrTextMessageTooLong         = "Message too long (max 500 characters)"
	ErrTextSlowDown               = "Please slow down"
	ErrTextWhisperUsage           = "Usage: /w username message"
)

// Envelope is one frame on the socket.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WelcomePayload tells a new connection who it is.
type WelcomePayload struct {
	Username        string `json:"username"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

// encodeEvent renders an outbound frame.
func encodeEvent(event string, data any) ([]byte, error) {
	return json.Marshal(outbound{Type: event, Data: data})
}

// mustEncode is encodeEvent for payloads that cannot fail to marshal.
func mustEncode(event string, data any) []byte {
	b, err := encodeEvent(event, data)
	if err != nil {
		panic("server: encode " + event + ": " + err.Error())
	}
	return b
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
