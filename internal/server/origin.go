package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/Tyrowin/hearth/internal/logging"
)

// originSet is a normalized allow-list of origins.
type originSet map[string]struct{}

func newOriginSet(origins []string) originSet {
	set := make(originSet, len(origins))
	for _, origin := range origins {
		normalized, ok := normalizeOrigin(strings.TrimSpace(origin))
		if !ok {
			logging.Warn().Str("origin", origin).Msg("ignoring invalid origin in configuration")
			continue
		}
		set[normalized] = struct{}{}
	}
	return set
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	return normalized, true
}

// allows reports whether the request's Origin is acceptable. Requests
// without an Origin header come from non-browser clients and are allowed;
// a present Origin must be in the set.
func (s originSet) allows(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return true
	}

	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}
	_, exists := s[normalized]
	return exists
}

// list returns the configured origins, for the CORS middleware.
func (s originSet) list() []string {
	out := make([]string, 0, len(s))
	for origin := range s {
		out = append(out, origin)
	}
	return out
}
