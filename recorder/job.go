package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/stream-tender/twitchapi"
)

// Job is one tracked live stream moving through the pipeline.
// While capturing it is owned by the Orchestrator; once handed off it belongs to the Worker.
type Job struct {
	ID       uuid.UUID
	Stream   twitchapi.Stream // snapshot taken at dispatch, never refreshed
	Login    string
	Filename string

	RecordingDir string
	CleanupDir   string
	MoveDir      string

	Stage     Stage
	CreatedAt time.Time

	proc    Process
	history []Stage
}

func newJob(user twitchapi.User, stream twitchapi.Stream, recordingPath, cleanupPath, movePath string, now time.Time) *Job {
	login := strings.TrimSpace(user.Login)
	return &Job{
		ID:           uuid.New(),
		Stream:       stream,
		Login:        login,
		Filename:     BuildFilename(login, stream.ID, now, stream.Title),
		RecordingDir: filepath.Join(recordingPath, login),
		CleanupDir:   filepath.Join(cleanupPath, login),
		MoveDir:      filepath.Join(movePath, login),
		Stage:        StageStart,
		CreatedAt:    now,
		history:      []Stage{StageStart},
	}
}

// RecordingPath is the raw capture file.
func (j *Job) RecordingPath() string { return filepath.Join(j.RecordingDir, j.Filename) }

// CleanupPath is the remuxed file.
func (j *Job) CleanupPath() string { return filepath.Join(j.CleanupDir, j.Filename) }

// MovePath is the final artifact.
func (j *Job) MovePath() string { return filepath.Join(j.MoveDir, j.Filename) }

// ChatPath is the chat sidecar, written straight into the final directory.
func (j *Job) ChatPath() string {
	return filepath.Join(j.MoveDir, strings.TrimSuffix(j.Filename, videoExt)+chatExt)
}

// URL is the channel page the capture tool reads from.
func (j *Job) URL() string { return "https://www.twitch.tv/" + j.Login }

// History returns the stages the job has been in, oldest first.
func (j *Job) History() []Stage { return append([]Stage(nil), j.history...) }

// advance moves the job to the next stage and returns the action for it.
func (j *Job) advance() (Action, error) {
	next, action, err := Advance(j.Stage)
	if err != nil {
		return ActionNone, err
	}
	j.Stage = next
	j.history = append(j.history, next)
	return action, nil
}

// abandon ends the job early. It is a no-op on terminal jobs.
func (j *Job) abandon() {
	if j.Stage.Terminal() {
		return
	}
	j.Stage = StageAbandoned
	j.history = append(j.history, StageAbandoned)
}

// createDirs makes the per-channel directories.
func (j *Job) createDirs() error {
	for _, dir := range []string{j.RecordingDir, j.CleanupDir, j.MoveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// LogAttrs returns the attributes every job log line carries.
func (j *Job) LogAttrs() []any {
	return []any{
		slog.String("job_id", j.ID.String()),
		slog.String("login", j.Login),
		slog.String("stream_id", j.Stream.ID),
		slog.String("filename", j.Filename),
	}
}
