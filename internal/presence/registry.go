// Package presence tracks who is connected, where they are, and how many
// connections each source address holds.
package presence

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/Tyrowin/hearth/internal/identity"
)

// Global is the location every connection starts in.
const Global = "Global"

// Locations lists the accepted location names.
var Locations = []string{Global, "North America", "Europe", "Asia", "South America", "Africa", "Oceania"}

// ErrTooManyConnections is returned by Admit when an address is at its cap.
var ErrTooManyConnections = errors.New("too many connections from this address")

// Identity is the server's view of one connection.
type Identity struct {
	ConnID      string
	DisplayName string
	Address     string
	Location    string
	Coords      *identity.Coords
	ConnectedAt time.Time
	Verified    bool
	ProviderID  string
}

// RosterEntry is the public, anonymous view of a connection for the map.
type RosterEntry struct {
	Coords   *identity.Coords `json:"coords"`
	Location string           `json:"location"`
}

// Registry is the table of live connections plus the per-address index.
// All methods are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	identities map[string]*Identity
	order      []string
	byAddress  map[string]map[string]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		identities: make(map[string]*Identity),
		byAddress:  make(map[string]map[string]struct{}),
	}
}

// Admit reserves a connection slot for connID under addr. The cap check and
// the reservation happen under one lock so concurrent handshakes from the
// same address cannot overshoot limit.
func (r *Registry) Admit(addr, connID string, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.byAddress[addr]
	if _, ok := set[connID]; ok {
		return nil
	}
	if len(set) >= limit {
		return ErrTooManyConnections
	}
	if set == nil {
		set = make(map[string]struct{})
		r.byAddress[addr] = set
	}
	set[connID] = struct{}{}
	return nil
}

// Release frees the slot held by connID under addr.
func (r *Registry) Release(addr, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.release(addr, connID)
}

func (r *Registry) release(addr, connID string) {
	set, ok := r.byAddress[addr]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.byAddress, addr)
	}
}

// ConnectionsFrom returns the number of slots held by addr.
func (r *Registry) ConnectionsFrom(addr string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddress[addr])
}

// Add records id. An empty location defaults to Global.
func (r *Registry) Add(id Identity) {
	if id.Location == "" {
		id.Location = Global
	}
	if id.ConnectedAt.IsZero() {
		id.ConnectedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.identities[id.ConnID]; !exists {
		r.order = append(r.order, id.ConnID)
	}
	r.identities[id.ConnID] = &id
}

// Remove deletes connID and releases its address slot. It returns the
// removed identity, and false if connID was not present. Calling it twice
// is harmless.
func (r *Registry) Remove(connID string) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.identities[connID]
	if !ok {
		return Identity{}, false
	}
	delete(r.identities, connID)
	if i := slices.Index(r.order, connID); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	r.release(id.Address, connID)
	return *id, true
}

// Get returns a copy of the identity for connID.
func (r *Registry) Get(connID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.identities[connID]
	if !ok {
		return Identity{}, false
	}
	return *id, true
}

// SetLocation changes the location of connID. Unknown IDs are ignored.
func (r *Registry) SetLocation(connID, location string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.identities[connID]
	if !ok {
		return false
	}
	id.Location = location
	return true
}

// SetCoords changes the coordinates of connID. Unknown IDs are ignored.
func (r *Registry) SetCoords(connID string, c identity.Coords) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.identities[connID]
	if !ok {
		return false
	}
	id.Coords = &c
	return true
}

// FindByDisplayName returns the first connection, in connect order, whose
// display name is exactly name.
func (r *Registry) FindByDisplayName(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, connID := range r.order {
		if r.identities[connID].DisplayName == name {
			return connID, true
		}
	}
	return "", false
}

// Roster returns the map view of every connection in connect order.
func (r *Registry) Roster() []RosterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roster := make([]RosterEntry, 0, len(r.order))
	for _, connID := range r.order {
		id := r.identities[connID]
		var c *identity.Coords
		if id.Coords != nil {
			cp := *id.Coords
			c = &cp
		}
		roster = append(roster, RosterEntry{Coords: c, Location: id.Location})
	}
	return roster
}

// DisplayNames returns every connected display name in connect order.
func (r *Registry) DisplayNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, connID := range r.order {
		names = append(names, r.identities[connID].DisplayName)
	}
	return names
}

// Count returns the number of connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}

// ValidLocation reports whether loc is one of Locations.
func ValidLocation(loc string) bool {
	return slices.Contains(Locations, loc)
}
