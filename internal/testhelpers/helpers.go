// Package testhelpers holds utilities shared by the HTTP and WebSocket
// tests: dialing with an origin, sending and reading envelopes and waiting
// for a particular event.
package testhelpers

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// TestOrigin is the origin test servers are configured to allow.
const TestOrigin = "http://localhost:5173"

// Frame is a decoded server frame.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WebSocketURL turns an httptest server URL into its /ws endpoint, with
// query appended.
func WebSocketURL(serverURL string, query url.Values) string {
	u := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Dial opens a WebSocket connection sending origin. An empty origin sends
// no Origin header. The handshake response is returned for status checks.
func Dial(wsURL, origin string) (*websocket.Conn, *http.Response, error) {
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	return DialHeader(wsURL, headers)
}

// DialHeader opens a WebSocket connection with the given request headers.
func DialHeader(wsURL string, headers http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustDial is Dial with TestOrigin that fails the test on error.
func MustDial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := Dial(wsURL, TestOrigin)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Send writes one {"type", "data"} envelope.
func Send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"type": event, "data": data})
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

// Receive reads the next frame, failing the test after timeout.
func Receive(t *testing.T, conn *websocket.Conn, timeout time.Duration) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("decode frame %s: %v", raw, err)
	}
	return f
}

// WaitFor reads frames until one of type event arrives and decodes its data
// into out, which may be nil.
func WaitFor(t *testing.T, conn *websocket.Conn, event string, out any) Frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		f := Receive(t, conn, time.Until(deadline))
		if f.Type != event {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(f.Data, out); err != nil {
				t.Fatalf("decode %s data: %v", event, err)
			}
		}
		return f
	}
	t.Fatalf("no %s frame before deadline", event)
	return Frame{}
}

// AssertStatusCode checks the status of an HTTP response.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp == nil {
		t.Fatalf("expected status code %d, got no response", expected)
	}
	if resp.StatusCode != expected {
		t.Errorf("expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks the Content-Type prefix of an HTTP response.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, expected) {
		t.Errorf("expected content type %s, got %s", expected, ct)
	}
}
