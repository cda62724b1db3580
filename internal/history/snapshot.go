package history

import (
	"context"
	"errors"
	"time"

	"github.com/Tyrowin/hearth/internal/logging"
	"github.com/Tyrowin/hearth/internal/metrics"
)

var (
	// ErrNoSnapshot means nothing has been persisted yet.
	ErrNoSnapshot = errors.New("no snapshot")

	// ErrCorruptSnapshot means the persisted state could not be decoded.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrBackendUnavailable means the backend refused the write without
	// trying, for example because a circuit breaker is open.
	ErrBackendUnavailable = errors.New("snapshot backend unavailable")
)

// Backend stores and retrieves snapshots.
type Backend interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// PlaylistSource supplies the current playlist for snapshots.
type PlaylistSource interface {
	Get() string
}

// Restore loads the last snapshot into store and returns the playlist to
// start with. Missing or unreadable snapshots yield an empty history and
// defaultPlaylist; they are never fatal.
func Restore(ctx context.Context, backend Backend, store *Store, defaultPlaylist string) string {
	snap, err := backend.Load(ctx)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		logging.Info().Msg("no persisted state, starting fresh")
		return defaultPlaylist
	case err != nil:
		logging.Warn().Err(err).Msg("failed to load persisted state, starting fresh")
		return defaultPlaylist
	}

	store.replace(snap.ChatHistory)
	logging.Info().Int("messages", store.Len()).Msg("loaded persisted state")

	if snap.Playlist == "" {
		return defaultPlaylist
	}
	return snap.Playlist
}

// Snapshotter writes the history and playlist to a Backend: on request,
// on a fixed interval, and once more when stopped. It implements
// suture.Service.
type Snapshotter struct {
	store    *Store
	playlist PlaylistSource
	backend  Backend
	interval time.Duration
	requests chan struct{}
}

// NewSnapshotter returns a Snapshotter and hooks it to store's appends.
func NewSnapshotter(store *Store, playlist PlaylistSource, backend Backend, interval time.Duration) *Snapshotter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s := &Snapshotter{
		store:    store,
		playlist: playlist,
		backend:  backend,
		interval: interval,
		requests: make(chan struct{}, 1),
	}
	store.OnAppend(s.Request)
	return s
}

// Request asks for a write soon. Requests made while one is pending are
// coalesced. It never blocks.
func (s *Snapshotter) Request() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// Persist captures the current state and writes it. The capture holds the
// history and playlist locks only while copying; the write holds none.
func (s *Snapshotter) Persist(ctx context.Context) error {
	snap := &Snapshot{
		ChatHistory: s.store.All(),
		Playlist:    s.playlist.Get(),
	}

	err := s.backend.Save(ctx, snap)
	switch {
	case err == nil:
		metrics.RecordSnapshotWrite("ok")
	case errors.Is(err, ErrBackendUnavailable):
		metrics.RecordSnapshotWrite("breaker_open")
	default:
		metrics.RecordSnapshotWrite("error")
	}
	return err
}

// Serve runs until ctx is canceled, then flushes one last time.
func (s *Snapshotter) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush()
			return ctx.Err()
		case <-ticker.C:
			s.persistAndLog(ctx)
		case <-s.requests:
			s.persistAndLog(ctx)
		}
	}
}

func (s *Snapshotter) persistAndLog(ctx context.Context) {
	if err := s.Persist(ctx); err != nil {
		logging.Error().Err(err).Msg("failed to save state")
	}
}

func (s *Snapshotter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Persist(ctx); err != nil {
		logging.Error().Err(err).Msg("final state flush failed")
		return
	}
	logging.Info().Int("messages", s.store.Len()).Msg("state flushed")
}

func (s *Snapshotter) String() string {
	return "snapshotter"
}
