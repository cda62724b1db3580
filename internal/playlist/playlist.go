// Package playlist holds the shared "now playing" reference that admins can
// swap for everyone.
package playlist

import (
	"errors"
	"strings"
	"sync"

	"github.com/Tyrowin/hearth/internal/session"
)

// DefaultMarker is the substring every accepted playlist must contain.
const DefaultMarker = "open.spotify.com/embed/"

var (
	// ErrNotAuthorized means the caller is not a verified admin.
	ErrNotAuthorized = errors.New("Not authorized") //nolint:staticcheck // user-facing text

	// ErrInvalidFormat is the parent of every value rejection.
	ErrInvalidFormat = errors.New("invalid playlist")

	// ErrEmptyPlaylist means no value was given.
	ErrEmptyPlaylist = wrapInvalid("Invalid playlist URL")

	// ErrMissingMarker means the value is not an embed URL.
	ErrMissingMarker = wrapInvalid("Must be a Spotify embed URL")
)

type invalidError struct{ msg string }

func (e *invalidError) Error() string { return e.msg }
func (e *invalidError) Unwrap() error { return ErrInvalidFormat }

func wrapInvalid(msg string) error { return &invalidError{msg: msg} }

// State is the current playlist and the admin allow-list. It is safe for
// concurrent use.
type State struct {
	mu     sync.RWMutex
	value  string
	admins map[string]struct{}
	marker string
}

// New returns a State holding initial. adminIDs are provider user IDs.
func New(initial string, adminIDs []string) *State {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = struct{}{}
		}
	}
	return &State{value: initial, admins: admins, marker: DefaultMarker}
}

// WithMarker overrides the required embed marker.
func (s *State) WithMarker(marker string) *State {
	if marker != "" {
		s.marker = marker
	}
	return s
}

// Get returns the current playlist.
func (s *State) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// IsAdmin reports whether caller may change the playlist.
func (s *State) IsAdmin(caller *session.Identity) bool {
	if caller == nil || caller.ProviderID == "" {
		return false
	}
	_, ok := s.admins[caller.ProviderID]
	return ok
}

// Set replaces the playlist. Authorization is checked before the value.
func (s *State) Set(caller *session.Identity, value string) error {
	if !s.IsAdmin(caller) {
		return ErrNotAuthorized
	}
	if value == "" {
		return ErrEmptyPlaylist
	}
	if !strings.Contains(value, s.marker) {
		return ErrMissingMarker
	}

	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
	return nil
}
