package recorder

import (
	"strings"
	"time"
)

// StatusLine renders the summary printed whenever the number of recordings changes.
func StatusLine(names []string) string {
	switch len(names) {
	case 0:
		return "Not recording."
	case 1:
		return "Actively recording " + names[0] + "'s stream."
	case 2:
		return "Actively recording " + names[0] + "'s and " + names[1] + "'s stream."
	default:
		last := len(names) - 1
		return "Actively recording " + strings.Join(names[:last], ", ") + ", and " + names[last] + "'s streams."
	}
}

// Recording describes one capturing job in a Status snapshot.
type Recording struct {
	JobID     string    `json:"job_id"`
	Login     string    `json:"login"`
	Channel   string    `json:"channel"`
	StreamID  string    `json:"stream_id"`
	Title     string    `json:"title"`
	Filename  string    `json:"filename"`
	Stage     string    `json:"stage"`
	StartedAt time.Time `json:"started_at"`
}

// Status is a point-in-time copy of the orchestrator state. It shares nothing
// with the live registry, so it is safe to read from other goroutines.
type Status struct {
	Recording  []Recording `json:"recording"`
	Halted     []string    `json:"halted"`
	Tracked    []string    `json:"tracked"`
	QueueDepth int         `json:"queue_depth"`
	LastTick   time.Time   `json:"last_tick"`
	Ticks      uint64      `json:"ticks"`
}
