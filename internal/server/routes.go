package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouteConfig holds the HTTP-level settings for SetupRoutes.
type RouteConfig struct {
	AllowedOrigins []string
	TrustProxy     bool
	APIRequests    int
	APIWindow      time.Duration
}

// SetupRoutes builds the router: health, the WebSocket endpoint, the
// playlist and session API, and metrics.
func SetupRoutes(cfg RouteConfig, gateway http.Handler, api *API) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(SecurityHeaders)

	r.Get("/", HealthHandler)
	r.Get("/health", HealthHandler)
	r.Handle("/ws", gateway)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(apiRateLimit(cfg))

		r.Get("/playlist", api.GetPlaylist)
		r.Post("/playlist", api.SetPlaylist)
		r.Get("/me", api.Me)
	})

	r.Get("/auth/me", api.Me)
	r.Get("/auth/logout", api.Logout)

	return r
}

func apiRateLimit(cfg RouteConfig) func(http.Handler) http.Handler {
	requests, window := cfg.APIRequests, cfg.APIWindow
	if requests <= 0 {
		requests = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return httprate.Limit(requests, window, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		return clientAddress(r, cfg.TrustProxy), nil
	}))
}

const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline'; " +
	"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com; " +
	"img-src 'self' data:; " +
	"font-src 'self' https://fonts.gstatic.com; " +
	"connect-src 'self' ws: wss: https://cdn.jsdelivr.net https://nominatim.openstreetmap.org; " +
	"frame-src https://open.spotify.com https://www.youtube.com; " +
	"frame-ancestors 'none'; " +
	"base-uri 'self'; " +
	"form-action 'self';"

// SecurityHeaders sets the browser hardening headers on every response.
// HSTS is only sent when the request reached us over https.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", contentSecurityPolicy)
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
