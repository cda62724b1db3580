// Package identity decides what a new connection is called and where it
// appears on the map.
//
// A verified provider identity always wins. Otherwise a cached name the
// client remembered is reused if it matches the generated-name grammar, and
// failing that a fresh name is generated. Cached coordinates are validated
// and jittered; invalid ones are discarded.
package identity

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Tyrowin/hearth/internal/session"
)

// Resolved is the outcome of Resolve.
type Resolved struct {
	DisplayName string
	Verified    bool
	ProviderID  string
	Coords      *Coords
}

// Resolver owns the random source used for names and jitter.
type Resolver struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewResolver returns a Resolver drawing from rng. A nil rng is replaced by
// a time-seeded source.
func NewResolver(rng *rand.Rand) *Resolver {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Resolver{rng: rng}
}

// Resolve picks the display name and initial coordinates for a connection.
func (r *Resolver) Resolve(verified *session.Identity, cachedName string, cachedCoords *Coords) Resolved {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out Resolved
	switch {
	case verified != nil && verified.Username != "":
		out.DisplayName = verified.Username
		out.Verified = true
		out.ProviderID = verified.ProviderID
	case ValidCachedName(cachedName):
		out.DisplayName = cachedName
	default:
		out.DisplayName = Generate(r.rng)
	}

	if cachedCoords != nil && ValidCoords(*cachedCoords) {
		c := Jitter(*cachedCoords, r.rng)
		out.Coords = &c
	}
	return out
}

// Jitter jitters c with the resolver's random source.
func (r *Resolver) Jitter(c Coords) Coords {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Jitter(c, r.rng)
}
