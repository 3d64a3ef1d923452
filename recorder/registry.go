package recorder

import (
	"sort"

	"github.com/onnwee/stream-tender/twitchapi"
)

// Registry holds in-flight capturing jobs keyed by stream id.
// It is only touched by the Orchestrator goroutine.
type Registry struct {
	jobs map[string]*Job
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{jobs: make(map[string]*Job)} }

// Add inserts j. It reports false if a job for the same stream exists.
func (r *Registry) Add(j *Job) bool {
	if _, ok := r.jobs[j.Stream.ID]; ok {
		return false
	}
	r.jobs[j.Stream.ID] = j
	return true
}

func (r *Registry) Get(streamID string) (*Job, bool) {
	j, ok := r.jobs[streamID]
	return j, ok
}

func (r *Registry) Contains(streamID string) bool {
	_, ok := r.jobs[streamID]
	return ok
}

// Remove deletes and returns the job for streamID.
func (r *Registry) Remove(streamID string) (*Job, bool) {
	j, ok := r.jobs[streamID]
	delete(r.jobs, streamID)
	return j, ok
}

func (r *Registry) Len() int { return len(r.jobs) }

// Jobs returns the jobs ordered by login, then stream id.
func (r *Registry) Jobs() []*Job {
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Login != out[b].Login {
			return out[a].Login < out[b].Login
		}
		return out[a].Stream.ID < out[b].Stream.ID
	})
	return out
}

// HaltSet holds live streams that must not be recorded during their current broadcast.
type HaltSet struct {
	streams map[string]twitchapi.Stream
}

// NewHaltSet returns an empty halt set.
func NewHaltSet() *HaltSet { return &HaltSet{streams: make(map[string]twitchapi.Stream)} }

func (h *HaltSet) Add(s twitchapi.Stream) { h.streams[s.ID] = s }

func (h *HaltSet) Contains(streamID string) bool {
	_, ok := h.streams[streamID]
	return ok
}

func (h *HaltSet) Remove(streamID string) { delete(h.streams, streamID) }

func (h *HaltSet) Len() int { return len(h.streams) }

// Retain keeps only streams that appear in live and returns how many were released.
func (h *HaltSet) Retain(live []twitchapi.Stream) int {
	still := make(map[string]struct{}, len(live))
	for _, s := range live {
		still[s.ID] = struct{}{}
	}
	released := 0
	for id := range h.streams {
		if _, ok := still[id]; !ok {
			delete(h.streams, id)
			released++
		}
	}
	return released
}

// Streams returns the halted streams ordered by id.
func (h *HaltSet) Streams() []twitchapi.Stream {
	out := make([]twitchapi.Stream, 0, len(h.streams))
	for _, s := range h.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func sortUsers(users []twitchapi.User) {
	sort.Slice(users, func(a, b int) bool { return users[a].Login < users[b].Login })
}
