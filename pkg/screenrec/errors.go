package screenrec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolNotFound means the external capture tool (or one of its helpers) isn't installed
	ErrToolNotFound = errors.New("capture tool not found")

	// ErrEnumeration wraps shell/tool failures while listing monitors, devices or windows
	ErrEnumeration = errors.New("device enumeration failed")

	// ErrProcessSpawn means the OS refused to start the capture process
	ErrProcessSpawn = errors.New("spawn capture process")

	// ErrAlreadyRecording is returned when starting while a session is still running
	ErrAlreadyRecording = errors.New("a recording is already in progress")

	// ErrNotRecording is returned when stopping without a running session
	ErrNotRecording = errors.New("no recording in progress")

	// ErrNoAudioStream means a recording made with an audio device has no audio track
	ErrNoAudioStream = errors.New("recording has no audio stream")
)

// ConfigurationError reports an invalid or missing user selection. It blocks the recording from starting
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func configError(field string, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// RecordingIncompleteError means the capture tool exited but left no usable output file
type RecordingIncompleteError struct {
	OutputPath string
	Size       int64 // -1 when the file doesn't exist
	ExitErr    error

	// Tail holds the last lines the tool wrote to its error stream
	Tail []string
}

func (e *RecordingIncompleteError) Error() string {
	if e.Size < 0 {
		return fmt.Sprintf("recording file was not created: %s", e.OutputPath)
	}
	return fmt.Sprintf("recording file too small (%d bytes): %s", e.Size, e.OutputPath)
}

func (e *RecordingIncompleteError) Unwrap() error {
	return e.ExitErr
}

// Diagnostic returns the captured tool output, one line per entry
func (e *RecordingIncompleteError) Diagnostic() string {
	return strings.Join(e.Tail, "\n")
}
