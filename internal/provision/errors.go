package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/cochaviz/ecuflash/internal/artifacts"
	"github.com/cochaviz/ecuflash/internal/probe"
	"github.com/cochaviz/ecuflash/internal/telemetry"
	"github.com/cochaviz/ecuflash/internal/variants"
)

// Code classifies a record. Codes are strings so they read well in JSON
// output and run records.
type Code string

const (
	// Request and configuration errors.

	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeInvalidConfig  Code = "INVALID_CONFIGURATION"

	// Pre-hardware errors. No probe session exists yet.

	CodeNoArtifacts        Code = "NO_ARTIFACTS_FOUND"
	CodeAmbiguousSelection Code = "AMBIGUOUS_SELECTION"
	CodeSourceUnavailable  Code = "MAPPING_SOURCE_UNAVAILABLE"
	CodeDuplicateVariant   Code = "DUPLICATE_VARIANT_KEY"
	CodeEmptyVariantMap    Code = "EMPTY_VARIANT_MAP"
	CodeUnknownVariant     Code = "UNKNOWN_VARIANT"

	// Probe session errors.

	CodeConnection            Code = "PROBE_CONNECTION_FAILED"
	CodeConfigConflict        Code = "CONFIG_CONFLICT"
	CodeArtifactNotAccessible Code = "ARTIFACT_NOT_ACCESSIBLE"
	CodeDownloadFailed        Code = "DOWNLOAD_FAILED"
	CodeTargetCommandFailed   Code = "TARGET_COMMAND_FAILED"
	CodePersistFailed         Code = "PERSIST_FAILED"
	CodeCloseFailed           Code = "CLOSE_FAILED"

	// Best effort steps.

	CodeTelemetry        Code = "TELEMETRY_FAILED"
	CodeDirectorySkipped Code = "DIRECTORY_SKIPPED"

	// Causes.

	CodeTimeout     Code = "TIMEOUT"
	CodeInterrupted Code = "INTERRUPTED"
	CodeInternal    Code = "INTERNAL_ERROR"
)

// Process exit codes.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitNoArtifacts    = 2
	ExitUnknownVariant = 3
	ExitDownloadFailed = 4
	ExitConnection     = 5
	ExitMapping        = 6
	ExitTargetCommand  = 7
	ExitInterrupted    = 130
)

// StepError attributes an error to the run step that produced it.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Classify maps an error onto its code and, when relevant, its cause.
func Classify(err error) (code, cause Code) {
	switch {
	case errors.Is(err, probe.ErrTimeout), errors.Is(err, telemetry.ErrTimeout):
		cause = CodeTimeout
	case errors.Is(err, context.Canceled):
		cause = CodeInterrupted
	}

	var selErr *artifacts.SelectionError
	switch {
	case errors.Is(err, artifacts.ErrNoArtifactsFound):
		code = CodeNoArtifacts
	case errors.As(err, &selErr):
		code = CodeAmbiguousSelection
	case errors.Is(err, variants.ErrMappingSourceUnavailable):
		code = CodeSourceUnavailable
	case errors.Is(err, variants.ErrDuplicateVariantKey):
		code = CodeDuplicateVariant
	case errors.Is(err, variants.ErrEmptyVariantMap):
		code = CodeEmptyVariantMap
	case errors.Is(err, variants.ErrUnknownVariant):
		code = CodeUnknownVariant
	case errors.Is(err, probe.ErrConnection):
		code = CodeConnection
	case errors.Is(err, probe.ErrConfigConflict):
		code = CodeConfigConflict
	case errors.Is(err, probe.ErrArtifactInaccessible):
		code = CodeArtifactNotAccessible
	case errors.Is(err, probe.ErrDownloadFailed):
		code = CodeDownloadFailed
	case errors.Is(err, probe.ErrTargetCommandFailed):
		code = CodeTargetCommandFailed
	case errors.Is(err, errInvalidConfig), errors.Is(err, probe.ErrInvalidTargetConfig):
		code = CodeInvalidConfig
	case errors.Is(err, errInvalidRequest):
		code = CodeInvalidRequest
	case cause == CodeInterrupted:
		code, cause = CodeInterrupted, ""
	case cause == CodeTimeout:
		code, cause = CodeTimeout, ""
	default:
		code = CodeInternal
	}
	return code, cause
}

var (
	errInvalidConfig  = errors.New("invalid configuration")
	errInvalidRequest = errors.New("invalid request")
)

// ExitCode maps a result onto the process exit status.
func ExitCode(result Result) int {
	if result.Succeeded() {
		return ExitOK
	}
	fatal, ok := result.Fatal()
	if !ok {
		return ExitFailure
	}
	if fatal.Cause == CodeInterrupted {
		return ExitInterrupted
	}
	switch fatal.Code {
	case CodeInterrupted:
		return ExitInterrupted
	case CodeNoArtifacts, CodeAmbiguousSelection:
		return ExitNoArtifacts
	case CodeUnknownVariant:
		return ExitUnknownVariant
	case CodeDownloadFailed:
		return ExitDownloadFailed
	case CodeConnection:
		return ExitConnection
	case CodeSourceUnavailable, CodeDuplicateVariant, CodeEmptyVariantMap:
		return ExitMapping
	case CodeTargetCommandFailed:
		return ExitTargetCommand
	default:
		return ExitFailure
	}
}
