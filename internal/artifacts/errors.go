package artifacts

import (
	"errors"
	"fmt"
)

// ErrNoArtifactsFound is matched by every NoArtifactsError.
var ErrNoArtifactsFound = errors.New("no artifacts found")

// NoArtifactsError reports an empty scan.
type NoArtifactsError struct {
	Kind Kind
	Spec SearchSpec
}

func (e *NoArtifactsError) Error() string {
	return fmt.Sprintf("no %s artifacts found in %s", e.Kind, e.Spec)
}

func (e *NoArtifactsError) Is(target error) bool {
	return target == ErrNoArtifactsFound
}

// SelectionError reports a selection policy that cannot pick from a set.
type SelectionError struct {
	Kind   Kind
	Reason string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("select %s artifact: %s", e.Kind, e.Reason)
}
