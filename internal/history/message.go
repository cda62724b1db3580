// Package history keeps the bounded chat history and coordinates its
// periodic persistence together with the shared playlist.
package history

import "time"

// TimestampFormat is the server timestamp layout (ISO 8601, UTC, millis).
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Reply is a truncated reference to the message being answered.
type Reply struct {
	ID   string `json:"id"`
	User string `json:"user"`
	Text string `json:"text"`
}

// Message is an accepted chat line. Every field is set by the server.
type Message struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Text      string `json:"text"`
	Location  string `json:"location"`
	Timestamp string `json:"timestamp"`
	Verified  bool   `json:"verified"`
	ReplyTo   *Reply `json:"replyTo"`
	IsSystem  bool   `json:"isSystem,omitempty"`
}

// Whisper is a direct message between two connections. Whispers are never
// stored.
type Whisper struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	IsWhisper bool   `json:"isWhisper"`
}

// Stamp formats t as a message timestamp.
func Stamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// Snapshot is the persisted state.
type Snapshot struct {
	ChatHistory []Message `json:"chatHistory"`
	Playlist    string    `json:"playlist"`
}
