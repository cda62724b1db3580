package server

import (
	"net/http"

	"github.com/Tyrowin/hearth/internal/config"
	"github.com/Tyrowin/hearth/internal/history"
	"github.com/Tyrowin/hearth/internal/identity"
	"github.com/Tyrowin/hearth/internal/playlist"
	"github.com/Tyrowin/hearth/internal/presence"
	"github.com/Tyrowin/hearth/internal/ratelimit"
	"github.com/Tyrowin/hearth/internal/session"
)

// Deps are the collaborators a Server is built from. They are owned by the
// caller, which also runs the long-lived services (snapshotter, sweeper).
type Deps struct {
	Config    *config.Config
	Registry  *presence.Registry
	Limiter   *ratelimit.Limiter
	History   *history.Store
	Playlist  *playlist.State
	Snapshots SnapshotRequester
	Sessions  *session.Manager
	Resolver  *identity.Resolver
}

// Server wires the hub, the event dispatcher, the WebSocket gateway and the
// HTTP API together.
type Server struct {
	hub        *Hub
	dispatcher *Dispatcher
	gateway    *Gateway
	api        *API
	routes     RouteConfig
}

// New builds a Server from deps.
func New(deps Deps) *Server {
	cfg := deps.Config

	hub := NewHub(deps.Registry, deps.Limiter)
	dispatcher := NewDispatcher(hub, deps.Registry, deps.Limiter, deps.History, deps.Resolver, PoliciesFromConfig(cfg.Limits))

	gateway := NewGateway(GatewayConfig{
		AllowedOrigins:           cfg.Security.AllowedOrigins,
		MaxConnectionsPerAddress: cfg.Security.MaxConnectionsPerAddress,
		TrustProxy:               cfg.Server.TrustProxy,
		HandshakesPerSecond:      cfg.Security.HandshakesPerSecond,
		HandshakeBurst:           cfg.Security.HandshakeBurst,
		MaxMessageSize:           cfg.Limits.MaxMessageSize,
	}, hub, dispatcher, deps.Registry, deps.Resolver, deps.Sessions, deps.History, deps.Playlist)

	return &Server{
		hub:        hub,
		dispatcher: dispatcher,
		gateway:    gateway,
		api:        NewAPI(hub, deps.Playlist, deps.Sessions, deps.Snapshots),
		routes: RouteConfig{
			AllowedOrigins: newOriginSet(cfg.Security.AllowedOrigins).list(),
			TrustProxy:     cfg.Server.TrustProxy,
			APIRequests:    cfg.Security.APIRequests,
			APIWindow:      cfg.Security.APIWindow,
		},
	}
}

// PoliciesFromConfig converts the configured limits.
func PoliciesFromConfig(l config.LimitsConfig) Policies {
	p := DefaultPolicies()
	if l.Message.Max > 0 && l.Message.Window > 0 {
		p.Message = ratelimit.Policy{Max: l.Message.Max, Window: l.Message.Window}
	}
	if l.SetCoords.Max > 0 && l.SetCoords.Window > 0 {
		p.SetCoords = ratelimit.Policy{Max: l.SetCoords.Max, Window: l.SetCoords.Window}
	}
	if l.SetLocation.Max > 0 && l.SetLocation.Window > 0 {
		p.SetLocation = ratelimit.Policy{Max: l.SetLocation.Max, Window: l.SetLocation.Window}
	}
	return p
}

// Hub returns the hub, which must be run as a service.
func (s *Server) Hub() *Hub {
	return s.hub
}

// API returns the HTTP API handlers.
func (s *Server) API() *API {
	return s.api
}

// Gateway returns the WebSocket admission handler.
func (s *Server) Gateway() *Gateway {
	return s.gateway
}

// Routes returns the complete HTTP handler.
func (s *Server) Routes() http.Handler {
	return SetupRoutes(s.routes, s.gateway, s.api)
}
