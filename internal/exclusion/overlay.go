package exclusion

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Overlay holds the active exclusion snapshot. Reloads build a new snapshot
// and swap it in atomically, so readers see either the old or the new
// configuration in full.
type Overlay struct {
	current    atomic.Pointer[Snapshot]
	generation atomic.Uint64
	log        zerolog.Logger
}

// NewOverlay returns an Overlay that excludes nothing.
func NewOverlay(log zerolog.Logger) *Overlay {
	o := &Overlay{log: log}
	o.current.Store(empty)
	return o
}

// Snapshot returns the active snapshot.
func (o *Overlay) Snapshot() *Snapshot { return o.current.Load() }

// Replace compiles cfg and makes it the active snapshot. Fields absent from
// cfg are empty afterwards; nothing carries over from the previous snapshot.
func (o *Overlay) Replace(cfg Config) *Snapshot {
	s := Compile(cfg, o.log)
	o.current.Store(s)
	o.generation.Add(1)
	sigs, paths, patterns := s.Len()
	o.log.Debug().Int("signatures", sigs).Int("path_patterns", paths).Int("entropy_patterns", patterns).
		Int("dropped", s.Dropped()).Msg("exclusions reloaded")
	return s
}

// Reset swaps in the empty snapshot.
func (o *Overlay) Reset() {
	o.current.Store(empty)
	o.generation.Add(1)
}

// Generation increments on every Replace or Reset.
func (o *Overlay) Generation() uint64 { return o.generation.Load() }
