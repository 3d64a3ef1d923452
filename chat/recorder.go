package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// ircClient is the subset of *twitch.Client the recorder uses.
type ircClient interface {
	OnPrivateMessage(func(twitch.PrivateMessage))
	Join(channels ...string)
	Depart(channel string)
	Connect() error
	Disconnect() error
}

// Message is one line of a chat file.
type Message struct {
	Time        time.Time      `json:"time"`
	RelSeconds  float64        `json:"rel_seconds"`
	ID          string         `json:"id,omitempty"`
	User        string         `json:"user"`
	DisplayName string         `json:"display_name"`
	Color       string         `json:"color,omitempty"`
	Badges      map[string]int `json:"badges,omitempty"`
	Emotes      []string       `json:"emotes,omitempty"`
	Message     string         `json:"message"`
}

type sink struct {
	login string
	path  string
	start time.Time
	f     *os.File
	enc   *json.Encoder
	lines int
}

// Recorder writes chat for joined channels. It is safe for concurrent use.
type Recorder struct {
	client ircClient
	now    func() time.Time
	log    *slog.Logger

	mu    sync.Mutex
	sinks map[string]*sink // by job id
}

// NewRecorder returns a Recorder on an anonymous (read-only) IRC connection.
func NewRecorder() *Recorder {
	return newRecorder(twitch.NewAnonymousClient())
}

func newRecorder(c ircClient) *Recorder {
	r := &Recorder{
		client: c,
		now:    time.Now,
		log:    slog.Default().With(slog.String("component", "chat")),
		sinks:  make(map[string]*sink),
	}
	c.OnPrivateMessage(r.handle)
	return r
}

// Start appends chat of login to path until Stop(jobID) is called.
func (r *Recorder) Start(jobID, login, path string) error {
	login = strings.ToLower(strings.TrimSpace(login))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open chat file: %w", err)
	}
	r.mu.Lock()
	if _, ok := r.sinks[jobID]; ok {
		r.mu.Unlock()
		_ = f.Close()
		return nil
	}
	join := !r.joinedLocked(login)
	r.sinks[jobID] = &sink{login: login, path: path, start: r.now(), f: f, enc: json.NewEncoder(f)}
	r.mu.Unlock()

	if join {
		r.client.Join(login)
	}
	r.log.Info("chat recording started", slog.String("login", login), slog.String("job_id", jobID), slog.String("path", path))
	return nil
}

// Stop closes the file of jobID and departs the channel if nothing else records it.
func (r *Recorder) Stop(jobID string) {
	r.mu.Lock()
	s, ok := r.sinks[jobID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sinks, jobID)
	depart := !r.joinedLocked(s.login)
	r.mu.Unlock()

	if depart {
		r.client.Depart(s.login)
	}
	r.close(jobID, s)
}

// Run connects and blocks until ctx is done. Open chat files are closed on return.
func (r *Recorder) Run(ctx context.Context) error {
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
		case <-finished:
			return
		}
		// Disconnect fails until the connection is up; keep trying until Connect returns.
		for r.client.Disconnect() != nil {
			select {
			case <-finished:
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}()

	r.log.Info("chat client connecting")
	err := r.client.Connect()
	if errors.Is(err, twitch.ErrClientDisconnected) {
		err = nil
	}
	r.closeAll()
	if err != nil {
		return fmt.Errorf("chat connect: %w", err)
	}
	r.log.Info("chat client stopped")
	return nil
}

// Channels returns the joined channels.
func (r *Recorder) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, s := range r.sinks {
		if !seen[s.login] {
			seen[s.login] = true
			out = append(out, s.login)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Recorder) handle(msg twitch.PrivateMessage) {
	channel := strings.ToLower(msg.Channel)
	at := msg.Time
	if at.IsZero() {
		at = r.now()
	}
	line := Message{
		Time:        at.UTC(),
		ID:          msg.ID,
		User:        msg.User.Name,
		DisplayName: msg.User.DisplayName,
		Color:       msg.User.Color,
		Message:     msg.Message,
	}
	if len(msg.User.Badges) > 0 {
		line.Badges = msg.User.Badges
	}
	for _, e := range msg.Emotes {
		if e != nil {
			line.Emotes = append(line.Emotes, e.Name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sinks {
		if s.login != channel {
			continue
		}
		line.RelSeconds = at.Sub(s.start).Seconds()
		if err := s.enc.Encode(line); err != nil {
			r.log.Warn("chat write failed", slog.String("job_id", id), slog.Any("err", err))
			continue
		}
		s.lines++
	}
}

// joinedLocked reports whether any sink records login. r.mu must be held.
func (r *Recorder) joinedLocked(login string) bool {
	for _, s := range r.sinks {
		if s.login == login {
			return true
		}
	}
	return false
}

func (r *Recorder) close(jobID string, s *sink) {
	if err := s.f.Close(); err != nil {
		r.log.Warn("chat file close failed", slog.String("job_id", jobID), slog.Any("err", err))
	}
	r.log.Info("chat recording stopped", slog.String("login", s.login), slog.String("job_id", jobID), slog.Int("messages", s.lines))
}

func (r *Recorder) closeAll() {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = make(map[string]*sink)
	r.mu.Unlock()
	for id, s := range sinks {
		r.close(id, s)
	}
}
