package server

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/Tyrowin/hearth/internal/logging"
	"github.com/Tyrowin/hearth/internal/metrics"
	"github.com/Tyrowin/hearth/internal/playlist"
	"github.com/Tyrowin/hearth/internal/session"
)

// SnapshotRequester asks the persistence layer for a write.
type SnapshotRequester interface {
	Request()
}

// API serves the HTTP side-channel: health, playlist and session info.
type API struct {
	hub       *Hub
	playlist  *playlist.State
	sessions  *session.Manager
	snapshots SnapshotRequester
}

// NewAPI returns an API.
func NewAPI(hub *Hub, pl *playlist.State, sessions *session.Manager, snapshots SnapshotRequester) *API {
	return &API{hub: hub, playlist: pl, sessions: sessions, snapshots: snapshots}
}

// HealthHandler reports that the server is up.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("Hearth server is running!"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("error writing JSON response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type playlistResponse struct {
	Playlist string `json:"playlist"`
}

type playlistUpdateResponse struct {
	Success  bool   `json:"success"`
	Playlist string `json:"playlist"`
}

type playlistRequest struct {
	Playlist string `json:"playlist"`
}

// GetPlaylist returns the current playlist.
func (a *API) GetPlaylist(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, playlistResponse{Playlist: a.playlist.Get()})
}

// SetPlaylist lets an admin replace the playlist for everyone.
func (a *API) SetPlaylist(w http.ResponseWriter, r *http.Request) {
	caller, _ := a.sessions.FromRequest(r)
	if !a.playlist.IsAdmin(caller) {
		writeJSON(w, http.StatusForbidden, errorResponse{Error: playlist.ErrNotAuthorized.Error()})
		return
	}

	var req playlistRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: playlist.ErrEmptyPlaylist.Error()})
		return
	}

	if err := a.UpdatePlaylist(caller, req.Playlist); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, playlist.ErrNotAuthorized) {
			status = http.StatusForbidden
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	logging.Info().Str("provider_id", caller.ProviderID).Str("playlist", req.Playlist).Msg("playlist updated")
	writeJSON(w, http.StatusOK, playlistUpdateResponse{Success: true, Playlist: req.Playlist})
}

// UpdatePlaylist sets the playlist, schedules a snapshot and tells every
// connection.
func (a *API) UpdatePlaylist(caller *session.Identity, value string) error {
	if err := a.playlist.Set(caller, value); err != nil {
		return err
	}
	metrics.PlaylistUpdates.Inc()
	if a.snapshots != nil {
		a.snapshots.Request()
	}
	a.hub.BroadcastGlobal(mustEncode(EventPlaylistUpdate, value))
	return nil
}

type meResponse struct {
	User *session.Identity `json:"user"`
}

// Me reports the verified identity of the caller, or null.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	id, err := a.sessions.FromRequest(r)
	if err != nil {
		id = nil
	}
	writeJSON(w, http.StatusOK, meResponse{User: id})
}

// Logout clears the session cookie.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.sessions.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}
