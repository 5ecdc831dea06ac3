package audio

import (
	"sync"

	"github.com/satriahrh/arunika/companion/domain/repositories"
)

// Registry owns the single current clip. Every Set bumps a generation so a
// late callback from a replaced clip can tell it is stale.
type Registry struct {
	mu         sync.Mutex
	generation uint64
	current    repositories.Playback
	stopLip    func()
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Set makes pb current, stopping any previous clip, and returns its generation.
func (r *Registry) Set(pb repositories.Playback) uint64 {
	r.mu.Lock()
	prev, prevLip := r.current, r.stopLip
	r.generation++
	r.current = pb
	r.stopLip = nil
	gen := r.generation
	r.mu.Unlock()

	if prevLip != nil {
		prevLip()
	}
	if prev != nil && prev != pb {
		prev.Stop()
	}
	return gen
}

// AttachLipSync registers the stop func of the lip sync driving clip gen.
// It reports false, without calling stop, when gen is no longer current.
func (r *Registry) AttachLipSync(gen uint64, stop func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation || r.current == nil {
		return false
	}
	r.stopLip = stop
	return true
}

// ClearIf releases the registration if gen is still current.
func (r *Registry) ClearIf(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation || r.current == nil {
		return false
	}
	r.current = nil
	r.stopLip = nil
	return true
}

func (r *Registry) IsCurrent(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gen == r.generation && r.current != nil
}

func (r *Registry) HasCurrent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// StopCurrent stops the current clip and its lip sync and invalidates its
// generation. It reports whether anything was playing.
func (r *Registry) StopCurrent() bool {
	r.mu.Lock()
	pb, lip := r.current, r.stopLip
	r.current = nil
	r.stopLip = nil
	r.generation++
	r.mu.Unlock()

	if lip != nil {
		lip()
	}
	if pb != nil {
		pb.Stop()
	}
	return pb != nil
}
