package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/onnwee/stream-tender/config"
)

// ErrNotStarted is returned when polling a job that has no process.
var ErrNotStarted = errors.New("process not started")

// ProcessState is the result of a poll. The zero value means still running.
type ProcessState struct {
	Exited   bool
	ExitCode int
}

// Process is a handle to a running subprocess.
type Process interface {
	// Poll reports the state without blocking. An error means the state could not be
	// observed; it is distinct from a non-zero exit.
	Poll() (ProcessState, error)
	// Wait blocks until the process exits.
	Wait() (ProcessState, error)
}

// Launcher starts the subprocesses behind each pipeline stage.
type Launcher interface {
	StartCapture(url, dst string) (Process, error)
	StartRemux(src, dst string) (Process, error)
	StartMove(src, dst string) (Process, error)
}

// ExecLauncher runs streamlink, ffmpeg and the platform copy tool. No stage is
// cancellable; a stuck process is only noticed when it exits.
type ExecLauncher struct {
	StreamlinkPath string
	FFmpegPath     string
	Quality        string
	// OAuthToken is a Twitch user token passed to streamlink, for subscriber-only
	// and ad-free playback. Empty means anonymous.
	OAuthToken string
}

// NewExecLauncher takes tool paths, stream quality and the streamlink token from cfg.
func NewExecLauncher(cfg *config.Config) *ExecLauncher {
	return &ExecLauncher{
		StreamlinkPath: cfg.StreamlinkPath,
		FFmpegPath:     cfg.FFmpegPath,
		Quality:        cfg.StreamQuality,
		OAuthToken:     cfg.StreamlinkOAuthToken,
	}
}

// CheckTools warns about tools missing from PATH. Missing tools surface later as
// spawn failures, which the loop treats as recoverable.
func (l *ExecLauncher) CheckTools() {
	for _, tool := range []string{l.StreamlinkPath, l.FFmpegPath, copyTool()} {
		if _, err := exec.LookPath(tool); err != nil {
			slog.Warn("required tool not found", slog.String("tool", tool), slog.Any("err", err))
		}
	}
}

func (l *ExecLauncher) StartCapture(url, dst string) (Process, error) {
	return startProcess(l.StreamlinkPath, l.captureArgs(url, dst)...)
}

func (l *ExecLauncher) captureArgs(url, dst string) []string {
	args := []string{"--subprocess-errorlog"}
	if l.OAuthToken != "" {
		args = append(args, "--twitch-api-header", "Authorization=OAuth "+l.OAuthToken)
	}
	return append(args, url, l.Quality, "-o", dst)
}

func (l *ExecLauncher) StartRemux(src, dst string) (Process, error) {
	return startProcess(l.FFmpegPath, "-nostdin", "-y", "-err_detect", "ignore_err", "-i", src, "-c", "copy", dst)
}

func (l *ExecLauncher) StartMove(src, dst string) (Process, error) {
	if runtime.GOOS == "windows" {
		// xcopy /j copies without buffering; it takes a destination directory.
		return startProcess(copyTool(), src, filepath.Dir(dst), "/j", "/y")
	}
	return startProcess(copyTool(), src, dst)
}

func copyTool() string {
	if runtime.GOOS == "windows" {
		return "xcopy"
	}
	return "cp"
}

// execProcess observes exit through a goroutine blocked in Wait, so Poll never blocks.
type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	state   ProcessState
	waitErr error
}

func startProcess(name string, args ...string) (*execProcess, error) {
	cmd := exec.Command(name, args...)
	// nil stdio is connected to the null device
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", filepath.Base(name), err)
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	if ps := p.cmd.ProcessState; ps != nil {
		// A non-zero exit or an I/O error after exit still counts as exited.
		p.state = ProcessState{Exited: true, ExitCode: ps.ExitCode()}
	} else {
		p.waitErr = fmt.Errorf("wait %s: %w", filepath.Base(p.cmd.Path), err)
	}
	close(p.done)
}

func (p *execProcess) Poll() (ProcessState, error) {
	select {
	case <-p.done:
		return p.state, p.waitErr
	default:
		return ProcessState{}, nil
	}
}

func (p *execProcess) Wait() (ProcessState, error) {
	<-p.done
	return p.state, p.waitErr
}
