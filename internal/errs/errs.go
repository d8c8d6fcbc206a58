package errs

import (
	"fmt"
	"strings"
)

// Sentinel is an immutable error backed by a string constant so it can be
// declared const and compared with errors.Is through wrapped chains.
type Sentinel string

func (e Sentinel) Error() string { return string(e) }

const (
	// ErrBadStatus is wrapped by NetworkError when the server answers with a non-2xx status.
	ErrBadStatus = Sentinel("unexpected http status")
	// ErrEmptyName is returned when a process name is empty.
	ErrEmptyName = Sentinel("process name must not be empty")
	// ErrInvalidPID is wrapped by ParseError when a PID file holds a non-positive PID.
	ErrInvalidPID = Sentinel("invalid pid")
)

// NetworkError reports a failed download: transport failure or non-2xx response.
type NetworkError struct {
	URL        string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// FileReadError reports a file that is missing or unreadable.
type FileReadError struct {
	Path string
	Err  error
}

func (e *FileReadError) Error() string { return "read " + e.Path + ": " + e.Err.Error() }
func (e *FileReadError) Unwrap() error { return e.Err }

// FileWriteError reports a failure creating or writing a file.
type FileWriteError struct {
	Path string
	Err  error
}

func (e *FileWriteError) Error() string { return "write " + e.Path + ": " + e.Err.Error() }
func (e *FileWriteError) Unwrap() error { return e.Err }

// FileDeleteError reports a failure removing a file.
type FileDeleteError struct {
	Path string
	Err  error
}

func (e *FileDeleteError) Error() string { return "delete " + e.Path + ": " + e.Err.Error() }
func (e *FileDeleteError) Unwrap() error { return e.Err }

// ParseError reports content that could not be decoded or encoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string { return "parse " + e.Path + ": " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// SignalError reports a signal that could not be delivered to a process.
type SignalError struct {
	PID    int
	Signal string
	Err    error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("signal %s to pid %d: %v", e.Signal, e.PID, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }

// ConfigError lists required environment variables that are unset or empty.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "required environment variables missing: " + strings.Join(e.Missing, ", ")
}
