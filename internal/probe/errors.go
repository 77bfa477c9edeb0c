package probe

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConnection           = errors.New("probe connection error")
	ErrConfigConflict       = errors.New("target config conflict")
	ErrArtifactInaccessible = errors.New("artifact not accessible")
	ErrDownloadFailed       = errors.New("download failed")
	ErrTargetCommandFailed  = errors.New("target command failed")
	ErrInvalidState         = errors.New("invalid session state")
	ErrSessionClosed        = errors.New("probe session already closed")
	ErrInvalidTargetConfig  = errors.New("invalid target config")

	// ErrTimeout is the cause attached to probe calls that exceed their bound.
	ErrTimeout = errors.New("timeout")
)

// ConnectionError reports a failure talking to the probe while opening or
// configuring the session.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// ConfigConflictError reports a second, different configuration of a session.
type ConfigConflictError struct {
	Current   TargetConfig
	Requested TargetConfig
}

func (e *ConfigConflictError) Error() string {
	return fmt.Sprintf("target already configured as %s/%s on %s, refusing %s/%s on %s",
		e.Current.EmulatorType, e.Current.SoC, e.Current.Transport,
		e.Requested.EmulatorType, e.Requested.SoC, e.Requested.Transport)
}

func (e *ConfigConflictError) Is(target error) bool { return target == ErrConfigConflict }

type ArtifactNotAccessibleError struct {
	Path string
	Err  error
}

func (e *ArtifactNotAccessibleError) Error() string {
	return fmt.Sprintf("artifact %s not accessible: %v", e.Path, e.Err)
}

func (e *ArtifactNotAccessibleError) Unwrap() error { return e.Err }

func (e *ArtifactNotAccessibleError) Is(target error) bool { return target == ErrArtifactInaccessible }

// DownloadFailedError wraps the cause of a failed download. The target is
// in an unknown state afterwards.
type DownloadFailedError struct {
	Err error
}

func (e *DownloadFailedError) Error() string {
	return fmt.Sprintf("download failed: %v", e.Err)
}

func (e *DownloadFailedError) Unwrap() error { return e.Err }

func (e *DownloadFailedError) Is(target error) bool { return target == ErrDownloadFailed }

type TargetCommandFailedError struct {
	Command string
	Err     error
}

func (e *TargetCommandFailedError) Error() string {
	return fmt.Sprintf("target %s failed: %v", e.Command, e.Err)
}

func (e *TargetCommandFailedError) Unwrap() error { return e.Err }

func (e *TargetCommandFailedError) Is(target error) bool { return target == ErrTargetCommandFailed }

// InvalidStateError reports an operation attempted from the wrong state.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// TimeoutError is produced when a bounded call does not return in time.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("%s timed out after %s", e.Op, e.Limit)
	}
	return fmt.Sprintf("%s timed out", e.Op)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
