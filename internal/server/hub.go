package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/hearth/internal/logging"
	"github.com/Tyrowin/hearth/internal/metrics"
	"github.com/Tyrowin/hearth/internal/presence"
	"github.com/Tyrowin/hearth/internal/ratelimit"
)

// ErrHubStopped is returned when registering with a stopped hub.
var ErrHubStopped = errors.New("hub stopped")

type deliveryKind int

const (
	toGlobal deliveryKind = iota
	toScope
	toScopeAndGlobal
	toConn
	joinScope
)

type delivery struct {
	kind    deliveryKind
	scope   string
	connID  string
	payload []byte
}

type joinRequest struct {
	client   *Client
	greeting [][]byte
	announce [][]byte
}

// Hub routes frames to connections. Its subscriber tables are owned by the
// Serve goroutine; everything else talks to it through channels.
//
// Every connection is implicitly subscribed to Global and to at most one
// named region.
type Hub struct {
	clients  map[string]*Client
	regions  map[string]map[string]*Client
	regionOf map[string]string

	register   chan joinRequest
	unregister chan *Client
	deliveries chan delivery

	registry *presence.Registry
	limiter  *ratelimit.Limiter

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	shutdownTimeout time.Duration
	log             zerolog.Logger
}

// NewHub returns a Hub that cleans up registry and limiter state when a
// connection leaves.
func NewHub(registry *presence.Registry, limiter *ratelimit.Limiter) *Hub {
	return &Hub{
		clients:         make(map[string]*Client),
		regions:         make(map[string]map[string]*Client),
		regionOf:        make(map[string]string),
		register:        make(chan joinRequest),
		unregister:      make(chan *Client),
		deliveries:      make(chan delivery, 256),
		registry:        registry,
		limiter:         limiter,
		done:            make(chan struct{}),
		shutdownTimeout: 5 * time.Second,
		log:             logging.WithComponent("hub"),
	}
}

// Register adds c. greeting frames are queued to c alone, then the roster
// and announce frames go to everyone. It fails once the hub has stopped.
func (h *Hub) Register(c *Client, greeting, announce [][]byte) error {
	select {
	case h.register <- joinRequest{client: c, greeting: greeting, announce: announce}:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Unregister removes c and cleans up everything it owned.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		h.cleanup(c.id)
	}
}

// BroadcastGlobal sends a frame to every connection.
func (h *Hub) BroadcastGlobal(payload []byte) {
	h.deliver(delivery{kind: toGlobal, payload: payload})
}

// BroadcastScope sends a frame to the subscribers of scope. Global reaches
// everyone.
func (h *Hub) BroadcastScope(scope string, payload []byte) {
	h.deliver(delivery{kind: toScope, scope: scope, payload: payload})
}

// BroadcastScopeAndGlobal sends a frame to the union of scope's and Global's
// subscribers, once per connection.
func (h *Hub) BroadcastScopeAndGlobal(scope string, payload []byte) {
	h.deliver(delivery{kind: toScopeAndGlobal, scope: scope, payload: payload})
}

// Unicast sends a frame to one connection.
func (h *Hub) Unicast(connID string, payload []byte) {
	h.deliver(delivery{kind: toConn, connID: connID, payload: payload})
}

// JoinScope subscribes connID to scope, leaving its previous region.
// Joining Global leaves any region. It is ordered with the deliveries, so a
// frame sent after JoinScope sees the new subscription.
func (h *Hub) JoinScope(connID, scope string) {
	h.deliver(delivery{kind: joinScope, connID: connID, scope: scope})
}

// BroadcastRoster sends the current roster to everyone.
func (h *Hub) BroadcastRoster() {
	for _, frame := range h.rosterFrames() {
		h.BroadcastGlobal(frame)
	}
}

func (h *Hub) deliver(d delivery) {
	select {
	case h.deliveries <- d:
	case <-h.done:
	}
}

// Serve runs the hub until ctx is canceled. It implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()

		case req := <-h.register:
			h.handleRegister(req)

		case c := <-h.unregister:
			h.handleUnregister(c)

		case d := <-h.deliveries:
			h.handleDelivery(d)
		}
	}
}

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) handleRegister(req joinRequest) {
	c := req.client
	if c == nil {
		h.log.Warn().Msg("received nil client registration; skipping")
		return
	}

	h.clients[c.id] = c
	c.start()
	metrics.TrackConnection(true)
	h.log.Info().Str("conn_id", c.id).Str("addr", c.addr).Str("user", c.name).Int("clients", len(h.clients)).Msg("client registered")

	var failed []*Client
	for _, frame := range req.greeting {
		if !h.safeSend(c, frame) {
			failed = append(failed, c)
			break
		}
	}
	for _, frame := range h.rosterFrames() {
		failed = append(failed, h.sendAll(frame)...)
	}
	for _, frame := range req.announce {
		failed = append(failed, h.sendAll(frame)...)
	}
	h.removeFailedClients(failed)
}

func (h *Hub) handleUnregister(c *Client) {
	if existing, ok := h.clients[c.id]; ok && existing == c {
		h.detach(c)
		close(c.send)
		metrics.TrackConnection(false)
	}
	if h.cleanup(c.id) {
		h.log.Info().Str("conn_id", c.id).Str("user", c.name).Int("clients", len(h.clients)).Msg("client unregistered")
		failed := []*Client{}
		for _, frame := range h.rosterFrames() {
			failed = append(failed, h.sendAll(frame)...)
		}
		h.removeFailedClients(failed)
	}
}

// cleanup removes the presence entry and rate-limit windows of connID. It
// reports whether a presence entry existed.
func (h *Hub) cleanup(connID string) bool {
	_, removed := h.registry.Remove(connID)
	h.limiter.Purge(connID)
	return removed
}

func (h *Hub) detach(c *Client) {
	delete(h.clients, c.id)
	if region, ok := h.regionOf[c.id]; ok {
		delete(h.regions[region], c.id)
		if len(h.regions[region]) == 0 {
			delete(h.regions, region)
		}
		delete(h.regionOf, c.id)
	}
}

func (h *Hub) handleJoin(connID, scope string) {
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	if prev, ok := h.regionOf[connID]; ok {
		delete(h.regions[prev], connID)
		if len(h.regions[prev]) == 0 {
			delete(h.regions, prev)
		}
		delete(h.regionOf, connID)
	}
	if scope == presence.Global {
		return
	}
	if h.regions[scope] == nil {
		h.regions[scope] = make(map[string]*Client)
	}
	h.regions[scope][connID] = c
	h.regionOf[connID] = scope
}

func (h *Hub) handleDelivery(d delivery) {
	var failed []*Client

	switch d.kind {
	case joinScope:
		h.handleJoin(d.connID, d.scope)
		return
	case toGlobal:
		failed = h.sendAll(d.payload)
	case toScope:
		if d.scope == presence.Global {
			failed = h.sendAll(d.payload)
			break
		}
		for _, c := range h.regions[d.scope] {
			if !h.safeSend(c, d.payload) {
				failed = append(failed, c)
			}
		}
	case toScopeAndGlobal:
		// One copy per recipient even when it sits in both scopes.
		delivered := make(map[string]struct{}, len(h.clients))
		for id, c := range h.regions[d.scope] {
			delivered[id] = struct{}{}
			if !h.safeSend(c, d.payload) {
				failed = append(failed, c)
			}
		}
		for id, c := range h.clients {
			if _, seen := delivered[id]; seen {
				continue
			}
			if !h.safeSend(c, d.payload) {
				failed = append(failed, c)
			}
		}
	case toConn:
		if c, ok := h.clients[d.connID]; ok && !h.safeSend(c, d.payload) {
			failed = append(failed, c)
		}
	}

	h.removeFailedClients(failed)
}

func (h *Hub) sendAll(payload []byte) []*Client {
	var failed []*Client
	for _, c := range h.clients {
		if !h.safeSend(c, payload) {
			failed = append(failed, c)
		}
	}
	return failed
}

// safeSend queues payload without blocking. A full buffer means the client
// is too slow to keep up.
func (h *Hub) safeSend(c *Client, payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// removeFailedClients drops clients whose buffers are full. Closing the
// send channel makes the write pump close the socket, after which the read
// pump unregisters and the roster is rebroadcast.
func (h *Hub) removeFailedClients(failed []*Client) {
	for _, c := range failed {
		if existing, ok := h.clients[c.id]; !ok || existing != c {
			continue
		}
		h.detach(c)
		close(c.send)
		metrics.TrackConnection(false)
		metrics.SlowClientsDropped.Inc()
		h.log.Warn().Str("conn_id", c.id).Str("addr", c.addr).Msg("client removed due to full send buffer")
	}
}

func (h *Hub) rosterFrames() [][]byte {
	roster := h.registry.Roster()
	return [][]byte{
		mustEncode(EventLiveUsers, roster),
		mustEncode(EventUserCount, len(roster)),
		mustEncode(EventOnlineUsers, h.registry.DisplayNames()),
	}
}

// shutdown closes every client and waits for their pumps to finish.
func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.done) })

	h.log.Info().Int("clients", len(h.clients)).Msg("shutting down all client connections")
	for _, c := range h.clients {
		h.detach(c)
		close(c.send)
		metrics.TrackConnection(false)
	}

	waited := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		h.log.Info().Msg("hub shutdown completed")
	case <-time.After(h.shutdownTimeout):
		h.log.Warn().Msg("hub shutdown timeout reached, some connections may still be closing")
	}
}

func (h *Hub) String() string {
	return "hub"
}
