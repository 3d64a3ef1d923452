package recorder

import (
	"errors"
	"io/fs"
	"net"
	"os/exec"

	"github.com/onnwee/stream-tender/config"
	"github.com/onnwee/stream-tender/twitchapi"
)

// ErrReload wraps every failure to apply a changed configuration.
var ErrReload = errors.New("configuration reload failed")

// ErrorClass says how the loop reacts to an error. Nothing is fatal to the loop itself.
type ErrorClass int

const (
	// ErrorClassTransient covers platform, network and configuration failures:
	// state is left unchanged and the step is retried on the next tick.
	ErrorClassTransient ErrorClass = iota
	// ErrorClassLocal covers filesystem and subprocess failures: the affected job
	// is dropped or retried, the loop continues.
	ErrorClassLocal
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassTransient:
		return "transient"
	case ErrorClassLocal:
		return "local"
	default:
		return "unknown"
	}
}

// ClassifyError maps err to its class. Unrecognised errors are treated as transient.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassTransient
	}
	var (
		pathErr *fs.PathError
		execErr *exec.Error
		exitErr *exec.ExitError
		netErr  net.Error
	)
	// A reload error is transient whatever it wraps. Local cases come before the
	// network case: syscall.Errno implements net.Error, so a wrapped PathError or
	// exec failure would otherwise match it.
	switch {
	case errors.Is(err, ErrReload):
		return ErrorClassTransient
	case errors.Is(err, ErrNotStarted),
		errors.As(err, &execErr),
		errors.As(err, &exitErr),
		errors.As(err, &pathErr):
		return ErrorClassLocal
	case errors.Is(err, twitchapi.ErrRequestFailed),
		errors.Is(err, twitchapi.ErrUnauthorized),
		errors.Is(err, config.ErrInvalid),
		errors.As(err, &netErr):
		return ErrorClassTransient
	}
	return ErrorClassTransient
}
