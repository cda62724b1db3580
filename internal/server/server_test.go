package server_test

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/hearth/internal/config"
	"github.com/Tyrowin/hearth/internal/history"
	"github.com/Tyrowin/hearth/internal/identity"
	"github.com/Tyrowin/hearth/internal/playlist"
	"github.com/Tyrowin/hearth/internal/presence"
	"github.com/Tyrowin/hearth/internal/ratelimit"
	"github.com/Tyrowin/hearth/internal/server"
	"github.com/Tyrowin/hearth/internal/session"
	"github.com/Tyrowin/hearth/internal/store"
	"github.com/Tyrowin/hearth/internal/testhelpers"
)

const (
	adminID     = "admin-1"
	embedURL    = "https://open.spotify.com/embed/playlist/abc"
	testSecret  = "integration-test-secret"
	defaultList = "https://open.spotify.com/embed/playlist/default"
)

type countingRequester struct{ n atomic.Int32 }

func (c *countingRequester) Request() { c.n.Add(1) }

type testEnv struct {
	srv       *httptest.Server
	stopHub   context.CancelFunc
	hubDone   <-chan struct{}
	registry  *presence.Registry
	history   *history.Store
	sessions  *session.Manager
	snapshots *countingRequester
}

func newTestEnv(t *testing.T, configure func(*config.Config)) *testEnv {
	t.Helper()
	return newRestoredTestEnv(t, configure, nil)
}

// newRestoredTestEnv is newTestEnv starting from the state in backend, the
// way the process does on boot. A nil backend starts empty.
func newRestoredTestEnv(t *testing.T, configure func(*config.Config), backend history.Backend) *testEnv {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Security.AllowedOrigins = []string{testhelpers.TestOrigin}
	cfg.Security.SessionSecret = testSecret
	if configure != nil {
		configure(cfg)
	}

	env := &testEnv{
		registry:  presence.NewRegistry(),
		history:   history.NewStore(cfg.Persistence.HistorySize),
		sessions:  session.NewManager(cfg.Security.SessionSecret, time.Hour, cfg.Security.SessionCookie),
		snapshots: &countingRequester{},
	}
	initial := defaultList
	if backend != nil {
		initial = history.Restore(context.Background(), backend, env.history, defaultList)
	}
	s := server.New(server.Deps{
		Config:    cfg,
		Registry:  env.registry,
		Limiter:   ratelimit.New(),
		History:   env.history,
		Playlist:  playlist.New(initial, []string{adminID}),
		Snapshots: env.snapshots,
		Sessions:  env.sessions,
		Resolver:  identity.NewResolver(rand.New(rand.NewPCG(7, 9))),
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = s.Hub().Serve(ctx)
	}()

	env.stopHub, env.hubDone = cancel, stopped
	env.srv = httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		cancel()
		<-stopped
		env.srv.Close()
	})
	return env
}

func (e *testEnv) sessionCookie(t *testing.T, id session.Identity) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := e.sessions.SetCookie(rec, id); err != nil {
		t.Fatal(err)
	}
	return rec.Result().Cookies()[0]
}

func (e *testEnv) do(t *testing.T, method, path, body string, cookie *http.Cookie) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	client := &http.Client{
		Timeout:       5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/", "/health"} {
		resp, body := env.do(t, http.MethodGet, path, "", nil)
		testhelpers.AssertStatusCode(t, resp, http.StatusOK)
		testhelpers.AssertContentType(t, resp, "text/plain")
		if string(body) != "Hearth server is running!" {
			t.Errorf("%s body = %q", path, body)
		}
		if resp.Header.Get("X-Frame-Options") != "DENY" || resp.Header.Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s missing security headers: %v", path, resp.Header)
		}
		if resp.Header.Get("Content-Security-Policy") == "" {
			t.Errorf("%s missing CSP", path)
		}
		if resp.Header.Get("Strict-Transport-Security") != "" {
			t.Errorf("%s sent HSTS over plain http", path)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.do(t, http.MethodGet, "/metrics", "", nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	if !strings.Contains(string(body), "hearth_") {
		t.Error("metrics output has no hearth series")
	}
}

func TestGetPlaylist(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.do(t, http.MethodGet, "/api/playlist", "", nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "application/json")

	var got struct{ Playlist string }
	if err := json.Unmarshal(body, &got); err != nil || got.Playlist != defaultList {
		t.Errorf("playlist = %q (%v)", got.Playlist, err)
	}
}

func TestSetPlaylistRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	body := `{"playlist":"` + embedURL + `"}`

	for name, cookie := range map[string]*http.Cookie{
		"anonymous": nil,
		"non-admin": env.sessionCookie(t, session.Identity{ProviderID: "someone", Username: "someone"}),
	} {
		resp, raw := env.do(t, http.MethodPost, "/api/playlist", body, cookie)
		testhelpers.AssertStatusCode(t, resp, http.StatusForbidden)
		if !strings.Contains(string(raw), "Not authorized") {
			t.Errorf("%s: body = %s", name, raw)
		}
	}
	if env.snapshots.n.Load() != 0 {
		t.Error("rejected update requested a snapshot")
	}
}

func TestSetPlaylistValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.sessionCookie(t, session.Identity{ProviderID: adminID, Username: "dj"})

	tests := []struct {
		body string
		want string
	}{
		{`not json`, "Invalid playlist URL"},
		{`{"playlist":""}`, "Invalid playlist URL"},
		{`{"playlist":"https://example.com/list"}`, "Must be a Spotify embed URL"},
	}
	for _, tt := range tests {
		resp, raw := env.do(t, http.MethodPost, "/api/playlist", tt.body, admin)
		testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)
		if !strings.Contains(string(raw), tt.want) {
			t.Errorf("body %s: got %s, want %q", tt.body, raw, tt.want)
		}
	}
}

func TestSetPlaylistBroadcasts(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := testhelpers.MustDial(t, testhelpers.WebSocketURL(env.srv.URL, nil))
	testhelpers.WaitFor(t, conn, server.EventChatMessage, nil)

	admin := env.sessionCookie(t, session.Identity{ProviderID: adminID, Username: "dj"})
	resp, raw := env.do(t, http.MethodPost, "/api/playlist", `{"playlist":"`+embedURL+`"}`, admin)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	if !strings.Contains(string(raw), `"success":true`) {
		t.Errorf("body = %s", raw)
	}

	var got string
	testhelpers.WaitFor(t, conn, server.EventPlaylistUpdate, &got)
	if got != embedURL {
		t.Errorf("broadcast playlist = %q", got)
	}
	if env.snapshots.n.Load() != 1 {
		t.Errorf("snapshot requests = %d, want 1", env.snapshots.n.Load())
	}

	_, raw = env.do(t, http.MethodGet, "/api/playlist", "", nil)
	if !strings.Contains(string(raw), embedURL) {
		t.Errorf("GET after update = %s", raw)
	}
}

func TestMeAndLogout(t *testing.T) {
	env := newTestEnv(t, nil)

	_, raw := env.do(t, http.MethodGet, "/api/me", "", nil)
	if strings.TrimSpace(string(raw)) != `{"user":null}` {
		t.Errorf("anonymous /api/me = %s", raw)
	}

	cookie := env.sessionCookie(t, session.Identity{ProviderID: "42", Username: "bob"})
	_, raw = env.do(t, http.MethodGet, "/api/me", "", cookie)
	if !strings.Contains(string(raw), `"username":"bob"`) {
		t.Errorf("/api/me = %s", raw)
	}

	resp, _ := env.do(t, http.MethodGet, "/auth/logout", "", cookie)
	testhelpers.AssertStatusCode(t, resp, http.StatusFound)
	cleared := false
	for _, c := range resp.Cookies() {
		if c.Name == env.sessions.CookieName() && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("logout did not clear the session cookie")
	}
}

func TestWebSocketWelcomeSequence(t *testing.T) {
	env := newTestEnv(t, nil)
	env.history.Append(history.Message{ID: "old", User: "calm_otter1", Text: "earlier", Location: presence.Global})

	conn := testhelpers.MustDial(t, testhelpers.WebSocketURL(env.srv.URL, url.Values{"name": {"brave_fox12"}}))

	var seq []string
	for range 7 {
		seq = append(seq, testhelpers.Receive(t, conn, 3*time.Second).Type)
	}
	want := []string{
		server.EventWelcome, server.EventChatHistory, server.EventPlaylistUpdate,
		server.EventLiveUsers, server.EventUserCount, server.EventOnlineUsers, server.EventChatMessage,
	}
	if !slices.Equal(seq, want) {
		t.Errorf("sequence = %v, want %v", seq, want)
	}

	conn2 := testhelpers.MustDial(t, testhelpers.WebSocketURL(env.srv.URL, url.Values{"name": {"brave_fox12"}}))
	var welcome server.WelcomePayload
	testhelpers.WaitFor(t, conn2, server.EventWelcome, &welcome)
	if welcome.Username != "brave_fox12" || welcome.IsAuthenticated {
		t.Errorf("welcome = %+v", welcome)
	}
	var msgs []history.Message
	testhelpers.WaitFor(t, conn2, server.EventChatHistory, &msgs)
	if len(msgs) != 1 || msgs[0].Text != "earlier" {
		t.Errorf("history = %+v", msgs)
	}
}

func TestWebSocketInvalidCachedNameIsReplaced(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := testhelpers.MustDial(t, testhelpers.WebSocketURL(env.srv.URL, url.Values{"name": {"<script>"}}))

	var welcome server.WelcomePayload
	testhelpers.WaitFor(t, conn, server.EventWelcome, &welcome)
	if !identity.ValidCachedName(welcome.Username) {
		t.Errorf("username = %q, want a generated name", welcome.Username)
	}
}

func TestWebSocketVerifiedIdentity(t *testing.T) {
	env := newTestEnv(t, nil)
	cookie := env.sessionCookie(t, session.Identity{ProviderID: "7", Username: "alice"})

	header := http.Header{}
	header.Set("Origin", testhelpers.TestOrigin)
	header.Set("Cookie", cookie.Name+"="+cookie.Value)
	conn, _, err := testhelpers.DialHeader(testhelpers.WebSocketURL(env.srv.URL, nil), header)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var welcome server.WelcomePayload
	testhelpers.WaitFor(t, conn, server.EventWelcome, &welcome)
	if welcome.Username != "alice" || !welcome.IsAuthenticated {
		t.Errorf("welcome = %+v", welcome)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, nil)
	_, resp, err := testhelpers.Dial(testhelpers.WebSocketURL(env.srv.URL, nil), "https://evil.example")
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	testhelpers.AssertStatusCode(t, resp, http.StatusForbidden)
	if env.registry.Count() != 0 {
		t.Error("rejected connection was registered")
	}
}

func TestWebSocketPerAddressCap(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Security.MaxConnectionsPerAddress = 2 })
	wsURL := testhelpers.WebSocketURL(env.srv.URL, nil)

	first := testhelpers.MustDial(t, wsURL)
	testhelpers.MustDial(t, wsURL)

	_, resp, err := testhelpers.Dial(wsURL, testhelpers.TestOrigin)
	if err == nil {
		t.Fatal("third connection was admitted")
	}
	testhelpers.AssertStatusCode(t, resp, http.StatusTooManyRequests)

	_ = first.Close()
	deadline := time.Now().Add(3 * time.Second)
	for env.registry.Count() > 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	conn, _, err := testhelpers.Dial(wsURL, testhelpers.TestOrigin)
	if err != nil {
		t.Fatalf("slot was not released after disconnect: %v", err)
	}
	_ = conn.Close()
}

func TestWebSocketRejectsPost(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.do(t, http.MethodPost, "/ws", "", nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
}

func TestChatBetweenClients(t *testing.T) {
	env := newTestEnv(t, nil)
	wsURL := testhelpers.WebSocketURL(env.srv.URL, nil)

	alice := testhelpers.MustDial(t, testhelpers.WebSocketURL(env.srv.URL, url.Values{"name": {"calm_owl1"}}))
	testhelpers.WaitFor(t, alice, server.EventChatMessage, nil)
	bob := testhelpers.MustDial(t, wsURL)
	testhelpers.WaitFor(t, bob, server.EventChatMessage, nil)

	testhelpers.Send(t, alice, server.EventChatMessage, map[string]string{"text": "hi <b>all</b>"})

	var msg history.Message
	testhelpers.WaitFor(t, bob, server.EventChatMessage, &msg)
	if msg.Text != "hi all" || msg.User != "calm_owl1" {
		t.Errorf("bob got %+v", msg)
	}

	_ = alice.Close()
	var count int
	for count != 1 {
		testhelpers.WaitFor(t, bob, server.EventUserCount, &count)
	}
}

func TestRestartServesRestoredState(t *testing.T) {
	backend := store.NewFileBackend(filepath.Join(t.TempDir(), "state.json"))
	err := backend.Save(context.Background(), &history.Snapshot{
		ChatHistory: []history.Message{
			{ID: "m1", User: "calm_owl1", Text: "before the restart", Location: presence.Global},
			{ID: "m2", User: "brave_fox2", Text: "still here", Location: "Europe"},
		},
		Playlist: embedURL,
	})
	if err != nil {
		t.Fatal(err)
	}

	env := newRestoredTestEnv(t, nil, backend)
	conn := testhelpers.MustDial(t, testhelpers.WebSocketURL(env.srv.URL, nil))

	var msgs []history.Message
	testhelpers.WaitFor(t, conn, server.EventChatHistory, &msgs)
	if len(msgs) != 2 || msgs[0].Text != "before the restart" || msgs[1].Location != "Europe" {
		t.Errorf("chatHistory = %+v", msgs)
	}
	var pl string
	testhelpers.WaitFor(t, conn, server.EventPlaylistUpdate, &pl)
	if pl != embedURL {
		t.Errorf("playlistUpdate = %q, want %q", pl, embedURL)
	}
}

func TestHubShutdownClosesConnectedClients(t *testing.T) {
	env := newTestEnv(t, nil)
	wsURL := testhelpers.WebSocketURL(env.srv.URL, nil)

	conns := []*websocket.Conn{testhelpers.MustDial(t, wsURL), testhelpers.MustDial(t, wsURL)}
	for _, c := range conns {
		testhelpers.WaitFor(t, c, server.EventWelcome, nil)
	}

	start := time.Now()
	env.stopHub()
	select {
	case <-env.hubDone:
	case <-time.After(4 * time.Second):
		t.Fatal("hub did not stop")
	}
	// the hub gives up waiting for pumps after 5s; stopping sooner means
	// every pump it started has exited
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("shutdown took %v", elapsed)
	}

	for i, c := range conns {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					t.Errorf("conn %d closed with %v, want normal closure", i, err)
				}
				break
			}
		}
	}
	if env.registry.Count() != 0 {
		t.Errorf("registry holds %d connections after shutdown", env.registry.Count())
	}
}
