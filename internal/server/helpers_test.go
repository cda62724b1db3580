package server

import (
	"context"
	"io"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/Tyrowin/hearth/internal/history"
	"github.com/Tyrowin/hearth/internal/identity"
	"github.com/Tyrowin/hearth/internal/logging"
	"github.com/Tyrowin/hearth/internal/presence"
	"github.com/Tyrowin/hearth/internal/ratelimit"
)

//nolint:gochecknoinits // keep test output quiet
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

const syncEvent = "test-sync"

type fixture struct {
	hub        *Hub
	registry   *presence.Registry
	limiter    *ratelimit.Limiter
	history    *history.Store
	dispatcher *Dispatcher
}

// newFixture starts a hub with a dispatcher over fresh state. The hub stops
// when the test ends.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		registry: presence.NewRegistry(),
		limiter:  ratelimit.New(),
		history:  history.NewStore(50),
	}
	f.hub = NewHub(f.registry, f.limiter)
	f.dispatcher = NewDispatcher(f.hub, f.registry, f.limiter, f.history,
		identity.NewResolver(rand.New(rand.NewPCG(1, 2))), DefaultPolicies())
	f.dispatcher.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = f.hub.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return f
}

// join registers a socketless client named name and discards everything it
// was sent while joining.
func (f *fixture) join(t *testing.T, id, name string) *Client {
	t.Helper()
	f.registry.Add(presence.Identity{ConnID: id, DisplayName: name, Address: "10.0.0.1"})
	c := NewClient(id, name, "10.0.0.1", nil, f.hub, f.dispatcher, 0)
	if err := f.hub.Register(c, nil, nil); err != nil {
		t.Fatalf("Register(%s): %v", id, err)
	}
	f.frames(t, c)
	return c
}

// frames returns what c received up to now, in order. It works by sending a
// marker through the hub and reading until it comes back.
func (f *fixture) frames(t *testing.T, c *Client) []Envelope {
	t.Helper()
	f.hub.Unicast(c.id, []byte(`{"type":"`+syncEvent+`"}`))

	var out []Envelope
	timeout := time.After(2 * time.Second)
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatalf("decode frame %s: %v", raw, err)
			}
			if env.Type == syncEvent {
				return out
			}
			out = append(out, env)
		case <-timeout:
			t.Fatalf("timed out waiting for frames to %s", c.id)
			return nil
		}
	}
}

func ofType(frames []Envelope, event string) []Envelope {
	var out []Envelope
	for _, f := range frames {
		if f.Type == event {
			out = append(out, f)
		}
	}
	return out
}

func types(frames []Envelope) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func errorTexts(frames []Envelope) []string {
	var out []string
	for _, f := range ofType(frames, EventError) {
		var s string
		_ = json.Unmarshal(f.Data, &s)
		out = append(out, s)
	}
	return out
}

func envelope(t *testing.T, event string, data any) Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	return Envelope{Type: event, Data: raw}
}
