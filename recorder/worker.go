package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/stream-tender/config"
	"github.com/onnwee/stream-tender/telemetry"
)

// ErrAbandoned is returned by Worker.Process when a job could not be completed.
var ErrAbandoned = errors.New("job abandoned")

// NewHandoff returns the queue between the loop and the worker. A size below one
// falls back to config.DefaultQueueSize.
func NewHandoff(size int) chan *Job {
	if size < 1 {
		size = config.DefaultQueueSize
	}
	return make(chan *Job, size)
}

// Worker post-processes finished captures one at a time: remux, drop the raw
// file, copy to the final directory, drop the remuxed file. It never touches the
// registry; every job it receives is its own.
type Worker struct {
	launcher Launcher
	remove   func(string) error
	now      func() time.Time
}

// NewWorker returns a Worker that starts remux and move processes with l.
func NewWorker(l Launcher) *Worker {
	telemetry.Init()
	return &Worker{launcher: l, remove: os.Remove, now: time.Now}
}

// Run consumes jobs until the queue is closed or ctx is done. A job that is being
// processed when ctx is cancelled is finished first.
func (w *Worker) Run(ctx context.Context, jobs <-chan *Job) {
	log := slog.Default().With(slog.String("component", "postprocess"))
	log.Info("post-processing worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info("post-processing worker stopped", slog.Int("left_in_queue", len(jobs)))
			return
		case job, ok := <-jobs:
			if !ok {
				log.Info("post-processing queue closed")
				return
			}
			telemetry.SetQueueDepth(len(jobs))
			_ = w.Process(ctx, job)
		}
	}
}

// Process runs the remaining stages of job and returns nil once it is Done.
// Any failure leaves the job Abandoned; files are only removed after the next
// stage has a copy of their contents.
func (w *Worker) Process(ctx context.Context, job *Job) error {
	ctx = telemetry.WithCorrelation(ctx, job.ID.String())
	ctx, span := telemetry.StartSpan(ctx, "recorder", "postprocess",
		attribute.String("login", job.Login),
		attribute.String("stream_id", job.Stream.ID))
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "postprocess")).With(job.LogAttrs()...)
	start := w.now()

	err := w.run(log, job)
	total := w.now().Sub(start)
	telemetry.TotalProcessDuration.Observe(total.Seconds())
	if err != nil {
		job.abandon()
		telemetry.PostProcessAbandoned.Inc()
		telemetry.RecordError(span, err)
		log.Warn("post-processing abandoned",
			slog.Any("err", err),
			slog.String("class", ClassifyError(err).String()),
			slog.Duration("elapsed", total))
		return fmt.Errorf("%w: %w", ErrAbandoned, err)
	}
	telemetry.PostProcessSucceeded.Inc()
	telemetry.SetSpanSuccess(span)
	log.Info("recording complete", slog.String("path", job.MovePath()), slog.Duration("elapsed", total))
	return nil
}

func (w *Worker) run(log *slog.Logger, job *Job) error {
	for !job.Stage.Terminal() {
		action, err := job.advance()
		if err != nil {
			return err
		}
		switch action {
		case ActionRemux:
			log.Info("remuxing capture")
			if err := w.remux(log, job); err != nil {
				return err
			}
		case ActionMove:
			if err := w.remove(job.RecordingPath()); err != nil {
				return fmt.Errorf("remove raw capture: %w", err)
			}
			log.Info("moving recording", slog.String("dst", job.MovePath()))
			if err := w.move(job); err != nil {
				return err
			}
		case ActionFinish:
			if err := w.remove(job.CleanupPath()); err != nil {
				log.Warn("could not remove remuxed file", slog.Any("err", err), slog.String("path", job.CleanupPath()))
			}
		default:
			return fmt.Errorf("unexpected action %s in stage %s", action, job.Stage)
		}
	}
	return nil
}

// remux tolerates a non-zero exit as long as an output file was written; ffmpeg
// reports damaged segments in live captures that still remux fine.
func (w *Worker) remux(log *slog.Logger, job *Job) error {
	var exit ProcessState
	var runErr error
	elapsed := telemetry.TimeFunc(telemetry.RemuxDuration, func() {
		exit, runErr = startAndWait(w.launcher.StartRemux, job.RecordingPath(), job.CleanupPath())
	})
	if runErr != nil {
		return fmt.Errorf("remux: %w", runErr)
	}
	if _, err := os.Stat(job.CleanupPath()); err != nil {
		return fmt.Errorf("remux exited %d without output: %w", exit.ExitCode, err)
	}
	if exit.ExitCode != 0 {
		log.Warn("remux exited non-zero; keeping output", slog.Int("exit_code", exit.ExitCode))
	}
	log.Debug("remux finished", slog.Duration("elapsed", elapsed))
	return nil
}

func (w *Worker) move(job *Job) error {
	var exit ProcessState
	var runErr error
	telemetry.TimeFunc(telemetry.MoveDuration, func() {
		exit, runErr = startAndWait(w.launcher.StartMove, job.CleanupPath(), job.MovePath())
	})
	if runErr != nil {
		return fmt.Errorf("move: %w", runErr)
	}
	if exit.ExitCode != 0 {
		return fmt.Errorf("move exited %d; remuxed file kept at %s", exit.ExitCode, job.CleanupPath())
	}
	return nil
}

func startAndWait(start func(src, dst string) (Process, error), src, dst string) (ProcessState, error) {
	p, err := start(src, dst)
	if err != nil {
		return ProcessState{}, err
	}
	return p.Wait()
}
