package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/stream-tender/config"
	"github.com/onnwee/stream-tender/telemetry"
	"github.com/onnwee/stream-tender/twitchapi"
)

// Platform is the part of the Twitch client the loop depends on.
type Platform interface {
	GetUsers(ctx context.Context, logins []string) ([]twitchapi.User, error)
	GetStreams(ctx context.Context, users []twitchapi.User) ([]twitchapi.Stream, error)
}

// PlatformFactory builds a client for the credentials in cfg.
type PlatformFactory func(cfg *config.Config) Platform

// ChatRecorder captures live chat next to a video capture.
type ChatRecorder interface {
	Start(jobID, login, path string) error
	Stop(jobID string)
}

// Options wires an Orchestrator to its collaborators.
type Options struct {
	ConfigPath  string
	NewPlatform PlatformFactory
	Launcher    Launcher
	// Chat is optional; it is used only while record_chat is set.
	Chat ChatRecorder
	// Handoff receives completed captures. The Orchestrator closes it when Run returns.
	Handoff chan<- *Job
	Now     func() time.Time
}

// Orchestrator owns the reconciliation loop state: configuration, tracked users,
// the halt set and the registry of capturing jobs. All of it is confined to the
// goroutine calling Tick/Run; other goroutines read Snapshot only.
type Orchestrator struct {
	watcher     *config.Watcher
	newPlatform PlatformFactory
	launcher    Launcher
	chat        ChatRecorder
	handoff     chan<- *Job
	now         func() time.Time

	cfg      *config.Config
	platform Platform
	users    map[string]twitchapi.User // by user id
	loaded   bool
	halted   *HaltSet
	jobs     *Registry
	previous int
	ticks    uint64

	status atomic.Pointer[Status]
}

// New returns an Orchestrator with nothing loaded. The configuration is read on
// the first tick, which applies halt_until_next_live.
func New(opts Options) (*Orchestrator, error) {
	if opts.ConfigPath == "" || opts.NewPlatform == nil || opts.Launcher == nil || opts.Handoff == nil {
		return nil, errors.New("orchestrator: config path, platform factory, launcher and handoff are required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	telemetry.Init()
	return &Orchestrator{
		watcher:     config.NewWatcher(opts.ConfigPath),
		newPlatform: opts.NewPlatform,
		launcher:    opts.Launcher,
		chat:        opts.Chat,
		handoff:     opts.Handoff,
		now:         now,
		users:       make(map[string]twitchapi.User),
		halted:      NewHaltSet(),
		jobs:        NewRegistry(),
	}, nil
}

// Run ticks immediately and then on the configured interval until ctx is done.
// It closes the handoff queue on return so the worker can drain and exit.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.handoff)
	o.Tick(ctx)
	interval := o.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("recorder loop started", slog.Duration("interval", interval), slog.String("component", "recorder"))
	for {
		select {
		case <-ctx.Done():
			slog.Info("recorder loop stopped", slog.Int("abandoned_captures", o.jobs.Len()), slog.String("component", "recorder"))
			return nil
		case <-ticker.C:
			o.Tick(ctx)
			if d := o.interval(); d != interval {
				interval = d
				ticker.Reset(d)
				slog.Info("poll interval changed", slog.Duration("interval", d), slog.String("component", "recorder"))
			}
		}
	}
}

func (o *Orchestrator) interval() time.Duration {
	if o.cfg == nil || o.cfg.PollInterval.Std() <= 0 {
		return config.DefaultPollInterval
	}
	return o.cfg.PollInterval.Std()
}

// Tick runs one reconciliation pass: reload, liveness, halt set, dispatch, poll, report.
func (o *Orchestrator) Tick(ctx context.Context) {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "recorder", "tick")
	defer span.End()
	log := o.logger(ctx)
	o.ticks++
	telemetry.TicksTotal.Inc()

	if err := o.reloadIfChanged(ctx); err != nil {
		telemetry.RecordReload(false)
		log.Warn("configuration reload failed; retrying next tick", slog.Any("err", err), slog.String("class", ClassifyError(err).String()))
	}

	if o.loaded {
		live, err := o.platform.GetStreams(ctx, o.trackedUsers())
		if err != nil {
			// Existing captures are still polled below.
			telemetry.LivenessFailures.Inc()
			telemetry.RecordError(span, err)
			log.Warn("live stream query failed", slog.Any("err", err), slog.String("class", ClassifyError(err).String()))
		} else {
			if released := o.halted.Retain(live); released > 0 {
				log.Info("halted streams went offline", slog.Int("released", released))
			}
			o.dispatch(ctx, live)
		}
	}

	o.poll(ctx)
	o.report(ctx)
	o.publish()
}

// reloadIfChanged applies a changed configuration all at once or not at all.
func (o *Orchestrator) reloadIfChanged(ctx context.Context) error {
	mod, changed, err := o.watcher.Check()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReload, err)
	}
	if !changed {
		return nil
	}
	log := o.logger(ctx)
	log.Info("attempting to load the updated configuration", slog.String("path", o.watcher.Path))

	cfg, err := config.Load(o.watcher.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReload, err)
	}
	platform := o.platform
	if platform == nil || !cfg.SameCredentials(o.cfg) {
		platform = o.newPlatform(cfg)
	}
	users, err := platform.GetUsers(ctx, cfg.LoginNames)
	if err != nil {
		return fmt.Errorf("%w: resolve users: %w", ErrReload, err)
	}

	// The first load halts everything already live; later loads only when asked to.
	halt := cfg.HaltNewlyAdded
	if !o.loaded {
		halt = cfg.HaltUntilNextLive
	}
	var toHalt []twitchapi.Stream
	if halt {
		live, err := platform.GetStreams(ctx, users)
		if err != nil {
			return fmt.Errorf("%w: query live streams for halting: %w", ErrReload, err)
		}
		for _, s := range live {
			if !o.jobs.Contains(s.ID) {
				toHalt = append(toHalt, s)
			}
		}
	}

	for _, s := range toHalt {
		o.halted.Add(s)
	}
	byID := make(map[string]twitchapi.User, len(users))
	resolved := make(map[string]bool, len(users))
	for _, u := range users {
		byID[u.ID] = u
		resolved[u.Login] = true
	}
	for _, name := range cfg.LoginNames {
		if !resolved[name] {
			log.Warn("login not found on twitch; ignoring", slog.String("login", name))
		}
	}
	o.users = byID
	o.cfg = cfg
	o.platform = platform
	o.loaded = true
	o.watcher.Commit(mod)

	telemetry.RecordReload(true)
	telemetry.TrackedUsers.Set(float64(len(byID)))
	log.Info("configuration loaded",
		slog.Int("tracked", len(byID)),
		slog.Int("halted", len(toHalt)),
		slog.Duration("interval", o.interval()))
	return nil
}

// dispatch starts a job for every live stream that is neither halted nor already tracked.
func (o *Orchestrator) dispatch(ctx context.Context, live []twitchapi.Stream) {
	for _, s := range live {
		if o.halted.Contains(s.ID) || o.jobs.Contains(s.ID) {
			continue
		}
		user, ok := o.users[s.UserID]
		if !ok {
			o.logger(ctx).Debug("live stream for an untracked user", slog.String("user_id", s.UserID), slog.String("stream_id", s.ID))
			continue
		}
		o.start(ctx, user, s)
	}
}

func (o *Orchestrator) start(ctx context.Context, user twitchapi.User, s twitchapi.Stream) {
	job := newJob(user, s, o.cfg.RecordingPath, o.cfg.CleanupPath, o.cfg.MovePath, o.now())
	log := o.logger(ctx).With(job.LogAttrs()...)
	log.Info("starting recording", slog.String("title", s.Title))

	// Failures leave nothing behind, so the stream is retried next tick while still live.
	if err := job.createDirs(); err != nil {
		log.Warn("could not create recording directories", slog.Any("err", err), slog.String("class", ClassifyError(err).String()))
		return
	}
	action, err := job.advance()
	if err != nil || action != ActionCapture {
		log.Error("unexpected stage for new job", slog.String("stage", job.Stage.String()), slog.Any("err", err))
		return
	}
	proc, err := o.launcher.StartCapture(job.URL(), job.RecordingPath())
	if err != nil {
		job.abandon()
		telemetry.CaptureSpawnFailures.Inc()
		log.Warn("capture failed to start; retrying while live", slog.Any("err", err), slog.String("class", ClassifyError(err).String()))
		return
	}
	job.proc = proc
	o.jobs.Add(job)
	telemetry.RecordingsStarted.Inc()

	if o.chat != nil && o.cfg.RecordChat {
		if err := o.chat.Start(job.ID.String(), job.Login, job.ChatPath()); err != nil {
			log.Warn("chat capture failed to start", slog.Any("err", err))
		}
	}
}

// poll checks every capture without blocking and hands finished ones to the worker.
func (o *Orchestrator) poll(ctx context.Context) {
	for _, job := range o.jobs.Jobs() {
		log := o.logger(ctx).With(job.LogAttrs()...)
		state, err := pollJob(job)
		if err != nil {
			telemetry.PollErrors.Inc()
			log.Warn("capture poll failed; dropping job", slog.Any("err", err), slog.String("class", ClassifyError(err).String()))
			o.jobs.Remove(job.Stream.ID)
			o.stopChat(job)
			job.abandon()
			continue
		}
		if !state.Exited {
			continue
		}
		elapsed := o.now().Sub(job.CreatedAt)
		log.Info("capture finished; queued for post-processing",
			slog.Int("exit_code", state.ExitCode),
			slog.Duration("captured_for", elapsed))
		telemetry.CapturesCompleted.Inc()
		telemetry.CaptureDuration.Observe(elapsed.Seconds())
		o.stopChat(job)
		o.jobs.Remove(job.Stream.ID)
		job.proc = nil
		o.send(ctx, job)
	}
	telemetry.SetQueueDepth(len(o.handoff))
}

func pollJob(job *Job) (ProcessState, error) {
	if job.proc == nil {
		return ProcessState{}, ErrNotStarted
	}
	return job.proc.Poll()
}

// send transfers ownership of job to the worker; job must not be used afterwards.
// The queue is large, so blocking here means the worker is far behind.
func (o *Orchestrator) send(ctx context.Context, job *Job) {
	select {
	case o.handoff <- job:
	case <-ctx.Done():
		o.logger(ctx).Warn("shutting down before handoff; raw capture left in place", job.LogAttrs()...)
	}
}

func (o *Orchestrator) stopChat(job *Job) {
	if o.chat != nil {
		o.chat.Stop(job.ID.String())
	}
}

func (o *Orchestrator) report(ctx context.Context) {
	n := o.jobs.Len()
	telemetry.ActiveRecordings.Set(float64(n))
	telemetry.HaltedStreams.Set(float64(o.halted.Len()))
	if n == o.previous {
		return
	}
	names := make([]string, 0, n)
	for _, j := range o.jobs.Jobs() {
		name := j.Stream.UserName
		if name == "" {
			name = j.Login
		}
		names = append(names, name)
	}
	o.logger(ctx).Info(StatusLine(names), slog.Int("active", n))
	o.previous = n
}

func (o *Orchestrator) publish() {
	st := &Status{
		Recording:  make([]Recording, 0, o.jobs.Len()),
		Halted:     make([]string, 0, o.halted.Len()),
		Tracked:    make([]string, 0, len(o.users)),
		QueueDepth: len(o.handoff),
		LastTick:   o.now(),
		Ticks:      o.ticks,
	}
	for _, j := range o.jobs.Jobs() {
		st.Recording = append(st.Recording, Recording{
			JobID:     j.ID.String(),
			Login:     j.Login,
			Channel:   j.Stream.UserName,
			StreamID:  j.Stream.ID,
			Title:     j.Stream.Title,
			Filename:  j.Filename,
			Stage:     j.Stage.String(),
			StartedAt: j.CreatedAt,
		})
	}
	for _, s := range o.halted.Streams() {
		st.Halted = append(st.Halted, s.ID)
	}
	for _, u := range o.trackedUsers() {
		st.Tracked = append(st.Tracked, u.Login)
	}
	o.status.Store(st)
}

// Snapshot returns the state published by the last tick. It is safe for concurrent use.
func (o *Orchestrator) Snapshot() Status {
	if st := o.status.Load(); st != nil {
		return *st
	}
	return Status{}
}

// trackedUsers returns the users ordered by login.
func (o *Orchestrator) trackedUsers() []twitchapi.User {
	out := make([]twitchapi.User, 0, len(o.users))
	for _, u := range o.users {
		out = append(out, u)
	}
	sortUsers(out)
	return out
}

func (o *Orchestrator) logger(ctx context.Context) *slog.Logger {
	return telemetry.LoggerWithCorr(ctx).With(slog.String("component", "recorder"))
}
