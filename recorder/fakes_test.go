package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/stream-tender/config"
	"github.com/onnwee/stream-tender/twitchapi"
)

var testNow = time.Unix(1700000000, 0)

// fakePlatform serves users and live streams from memory.
type fakePlatform struct {
	users      map[string]twitchapi.User // by login
	live       []twitchapi.Stream
	usersErr   error
	streamsErr error
	userCalls  int
	liveCalls  int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{users: make(map[string]twitchapi.User)}
}

func (f *fakePlatform) addUser(id, login string) {
	f.users[login] = twitchapi.User{ID: id, Login: login, DisplayName: login}
}

func (f *fakePlatform) setLive(streams ...twitchapi.Stream) { f.live = streams }

func (f *fakePlatform) GetUsers(_ context.Context, logins []string) ([]twitchapi.User, error) {
	f.userCalls++
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	var out []twitchapi.User
	for _, l := range logins {
		if u, ok := f.users[l]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakePlatform) GetStreams(_ context.Context, users []twitchapi.User) ([]twitchapi.Stream, error) {
	f.liveCalls++
	if f.streamsErr != nil {
		return nil, f.streamsErr
	}
	ids := make(map[string]bool, len(users))
	for _, u := range users {
		ids[u.ID] = true
	}
	var out []twitchapi.Stream
	for _, s := range f.live {
		if ids[s.UserID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func liveStream(userID, login, streamID, title string) twitchapi.Stream {
	return twitchapi.Stream{ID: streamID, UserID: userID, UserLogin: login, UserName: login, Title: title, StartedAt: testNow}
}

// fakeProcess reports whatever state the test sets.
type fakeProcess struct {
	mu      sync.Mutex
	state   ProcessState
	pollErr error
	onWait  func()
}

func (p *fakeProcess) exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = ProcessState{Exited: true, ExitCode: code}
}

func (p *fakeProcess) Poll() (ProcessState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.pollErr
}

func (p *fakeProcess) Wait() (ProcessState, error) {
	if p.onWait != nil {
		p.onWait()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Exited {
		p.state = ProcessState{Exited: true}
	}
	return p.state, p.pollErr
}

// fakeLauncher records calls. Remux and move copy files on disk so the worker
// sees real results.
type fakeLauncher struct {
	mu         sync.Mutex
	captureErr error
	captures   map[string]*fakeProcess // by destination path
	urls       []string

	remuxExit   int
	remuxOutput bool
	moveExit    int
	moveErr     error
	calls       []string
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{captures: make(map[string]*fakeProcess), remuxOutput: true}
}

func (l *fakeLauncher) StartCapture(url, dst string) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, "capture")
	if l.captureErr != nil {
		return nil, l.captureErr
	}
	p := &fakeProcess{}
	l.captures[dst] = p
	l.urls = append(l.urls, url)
	return p, nil
}

// capture returns the process writing into the directory of login.
func (l *fakeLauncher) capture(t *testing.T, login string) *fakeProcess {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	for dst, p := range l.captures {
		if filepath.Base(filepath.Dir(dst)) == login {
			return p
		}
	}
	t.Fatalf("no capture started for %s", login)
	return nil
}

func (l *fakeLauncher) captureCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.captures)
}

func (l *fakeLauncher) StartRemux(src, dst string) (Process, error) {
	l.mu.Lock()
	l.calls = append(l.calls, "remux")
	exit, output := l.remuxExit, l.remuxOutput
	l.mu.Unlock()
	return &fakeProcess{
		state: ProcessState{Exited: true, ExitCode: exit},
		onWait: func() {
			if output {
				copyFile(src, dst)
			}
		},
	}, nil
}

func (l *fakeLauncher) StartMove(src, dst string) (Process, error) {
	l.mu.Lock()
	l.calls = append(l.calls, "move")
	exit, err := l.moveExit, l.moveErr
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &fakeProcess{
		state: ProcessState{Exited: true, ExitCode: exit},
		onWait: func() {
			if exit == 0 {
				copyFile(src, dst)
			}
		},
	}, nil
}

func (l *fakeLauncher) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func copyFile(src, dst string) {
	data, err := os.ReadFile(src)
	if err != nil {
		return
	}
	_ = os.WriteFile(dst, data, 0o644)
}

// fakeChat records which jobs have chat running.
type fakeChat struct {
	active map[string]string // job id -> path
	starts int
	stops  int
}

func (c *fakeChat) Start(jobID, _ string, path string) error {
	if c.active == nil {
		c.active = make(map[string]string)
	}
	c.active[jobID] = path
	c.starts++
	return nil
}

func (c *fakeChat) Stop(jobID string) {
	delete(c.active, jobID)
	c.stops++
}

var errBoom = errors.New("boom")

// testEnv is an orchestrator wired to fakes, with its configuration in a temp dir.
type testEnv struct {
	t        *testing.T
	dir      string
	cfgPath  string
	cfg      map[string]any
	writes   int
	platform *fakePlatform
	launcher *fakeLauncher
	handoff  chan *Job
	orch     *Orchestrator
}

func newTestEnv(t *testing.T, logins ...string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	e := &testEnv{
		t:        t,
		dir:      dir,
		cfgPath:  filepath.Join(dir, "config.json"),
		platform: newFakePlatform(),
		launcher: newFakeLauncher(),
		handoff:  NewHandoff(16),
		cfg: map[string]any{
			"client_id":      "id",
			"client_secret":  "secret",
			"login_names":    logins,
			"recording_path": filepath.Join(dir, "recording"),
			"cleanup_path":   filepath.Join(dir, "cleanup"),
			"move_path":      filepath.Join(dir, "final"),
		},
	}
	e.writeConfig()
	o, err := New(Options{
		ConfigPath:  e.cfgPath,
		NewPlatform: func(*config.Config) Platform { return e.platform },
		Launcher:    e.launcher,
		Handoff:     e.handoff,
		Now:         func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.orch = o
	return e
}

// writeConfig rewrites the file with a modification time distinct from every earlier write.
func (e *testEnv) writeConfig() {
	e.t.Helper()
	data, err := json.Marshal(e.cfg)
	if err != nil {
		e.t.Fatal(err)
	}
	if err := os.WriteFile(e.cfgPath, data, 0o644); err != nil {
		e.t.Fatal(err)
	}
	e.writes++
	mod := testNow.Add(time.Duration(e.writes) * time.Minute)
	if err := os.Chtimes(e.cfgPath, mod, mod); err != nil {
		e.t.Fatal(err)
	}
}

func (e *testEnv) tick() {
	e.t.Helper()
	e.orch.Tick(context.Background())
	e.assertDisjoint()
}

// assertDisjoint checks that no stream is both halted and recorded.
func (e *testEnv) assertDisjoint() {
	e.t.Helper()
	for _, j := range e.orch.jobs.Jobs() {
		if e.orch.halted.Contains(j.Stream.ID) {
			e.t.Fatalf("stream %s is both halted and registered", j.Stream.ID)
		}
	}
}

// received returns the jobs waiting in the handoff queue.
func (e *testEnv) received() []*Job {
	var out []*Job
	for {
		select {
		case j := <-e.handoff:
			out = append(out, j)
		default:
			return out
		}
	}
}
