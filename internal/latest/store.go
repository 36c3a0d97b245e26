// Package latest holds the single most recent measurement.
package latest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/chrissnell/scalebridge/internal/types"
)

// Snapshot is an installed measurement together with the time it reached
// the store and its position in arrival order.
type Snapshot struct {
	Measurement types.Measurement
	ReceivedAt  time.Time
	Seq         uint64
}

// Store is the process-wide "current measurement". Readers never block and
// never see a partially written value: every Replace publishes a fresh
// immutable Snapshot through an atomic pointer.
type Store struct {
	current atomic.Pointer[Snapshot]

	// mu orders writers so sequence numbers follow installation order.
	mu  sync.Mutex
	seq uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{}
}

// Replace installs m as the current measurement and returns the snapshot
// that readers will now see. The previous value is discarded.
func (s *Store) Replace(m types.Measurement, at time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	snap := &Snapshot{
		Measurement: m,
		ReceivedAt:  at,
		Seq:         s.seq,
	}
	s.current.Store(snap)
	return *snap
}

// Read returns the current snapshot, or false before the first Replace.
func (s *Store) Read() (Snapshot, bool) {
	snap := s.current.Load()
	if snap == nil {
		return Snapshot{}, false
	}
	return *snap, true
}
