package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/hearth/internal/history"
	"github.com/Tyrowin/hearth/internal/identity"
	"github.com/Tyrowin/hearth/internal/logging"
	"github.com/Tyrowin/hearth/internal/metrics"
	"github.com/Tyrowin/hearth/internal/playlist"
	"github.com/Tyrowin/hearth/internal/presence"
	"github.com/Tyrowin/hearth/internal/session"
)

// Rejection texts returned before the upgrade.
const (
	RejectTextOrigin      = "Origin not allowed"
	RejectTextTooMany     = "Too many connections from this IP"
	RejectTextHandshakes  = "Too many connection attempts"
	RejectTextBadMethod   = "Method not allowed. WebSocket endpoint only accepts GET requests."
	RejectTextUnavailable = "Server shutting down"
)

// GatewayConfig tunes admission.
type GatewayConfig struct {
	AllowedOrigins           []string
	MaxConnectionsPerAddress int
	TrustProxy               bool
	HandshakesPerSecond      float64
	HandshakeBurst           int
	MaxMessageSize           int64
}

// Gateway admits WebSocket connections. A handshake moves from pending to
// rejected (bad origin, address at its cap, handshake flood) or admitted;
// admitted connections are upgraded, resolved to an identity and handed to
// the hub.
type Gateway struct {
	hub        *Hub
	dispatcher *Dispatcher
	registry   *presence.Registry
	resolver   *identity.Resolver
	sessions   *session.Manager
	history    *history.Store
	playlist   *playlist.State

	origins    originSet
	handshakes *rate.Limiter
	upgrader   websocket.Upgrader
	cfg        GatewayConfig
	log        zerolog.Logger
}

// NewGateway returns a Gateway.
func NewGateway(cfg GatewayConfig, hub *Hub, dispatcher *Dispatcher, registry *presence.Registry, resolver *identity.Resolver,
	sessions *session.Manager, store *history.Store, pl *playlist.State,
) *Gateway {
	if cfg.MaxConnectionsPerAddress <= 0 {
		cfg.MaxConnectionsPerAddress = 5
	}
	limit := rate.Inf
	if cfg.HandshakesPerSecond > 0 {
		limit = rate.Limit(cfg.HandshakesPerSecond)
	}

	g := &Gateway{
		hub:        hub,
		dispatcher: dispatcher,
		registry:   registry,
		resolver:   resolver,
		sessions:   sessions,
		history:    store,
		playlist:   pl,
		origins:    newOriginSet(cfg.AllowedOrigins),
		handshakes: rate.NewLimiter(limit, max(cfg.HandshakeBurst, 1)),
		cfg:        cfg,
		log:        logging.WithComponent("gateway"),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.origins.allows,
	}
	return g
}

func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, status int, reason, metric string) {
	metrics.RecordRejection(metric)
	g.log.Info().Str("addr", clientAddress(r, g.cfg.TrustProxy)).Str("origin", r.Header.Get("Origin")).Str("reason", reason).Msg("connection rejected")
	http.Error(w, reason, status)
}

// ServeHTTP runs the admission checks and, if they pass, the upgrade.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, RejectTextBadMethod, http.StatusMethodNotAllowed)
		return
	}
	select {
	case <-g.hub.Done():
		http.Error(w, RejectTextUnavailable, http.StatusServiceUnavailable)
		return
	default:
	}

	if !g.handshakes.Allow() {
		g.reject(w, r, http.StatusTooManyRequests, RejectTextHandshakes, metrics.RejectHandshake)
		return
	}
	if !g.origins.allows(r) {
		g.reject(w, r, http.StatusForbidden, RejectTextOrigin, metrics.RejectOrigin)
		return
	}

	addr := clientAddress(r, g.cfg.TrustProxy)
	connID := uuid.NewString()
	if err := g.registry.Admit(addr, connID, g.cfg.MaxConnectionsPerAddress); err != nil {
		g.reject(w, r, http.StatusTooManyRequests, RejectTextTooMany, metrics.RejectAddress)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.registry.Release(addr, connID)
		metrics.RecordRejection(metrics.RejectUpgrade)
		g.log.Warn().Err(err).Str("addr", addr).Msg("websocket upgrade failed")
		return
	}

	verified, err := g.sessions.FromRequest(r)
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		g.log.Debug().Err(err).Str("addr", addr).Msg("ignoring invalid session")
	}

	q := r.URL.Query()
	resolved := g.resolver.Resolve(verified, q.Get("name"), parseCachedCoords(q.Get("lng"), q.Get("lat")))

	g.registry.Add(presence.Identity{
		ConnID:      connID,
		DisplayName: resolved.DisplayName,
		Address:     addr,
		Location:    presence.Global,
		Coords:      resolved.Coords,
		Verified:    resolved.Verified,
		ProviderID:  resolved.ProviderID,
	})

	client := NewClient(connID, resolved.DisplayName, addr, conn, g.hub, g.dispatcher, g.cfg.MaxMessageSize)
	greeting := welcomeFrames(resolved.DisplayName, resolved.Verified, g.history.All(), g.playlist.Get())
	announce := [][]byte{g.dispatcher.systemGreeting(resolved.DisplayName)}

	if err := g.hub.Register(client, greeting, announce); err != nil {
		g.registry.Remove(connID)
		_ = conn.Close()
	}
}

// parseCachedCoords reads the coordinates a client remembered. Either value
// missing or unparsable means none.
func parseCachedCoords(lng, lat string) *identity.Coords {
	if lng == "" || lat == "" {
		return nil
	}
	x, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return nil
	}
	y, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil
	}
	return &identity.Coords{Lng: x, Lat: y}
}
