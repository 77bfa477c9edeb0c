package artifacts

import (
	"fmt"
	"strings"
)

// SelectionPolicy picks one artifact out of a located set. Implementations
// must be deterministic.
type SelectionPolicy interface {
	Select(set Set) (string, error)
}

// FirstMatch selects the first discovered artifact.
type FirstMatch struct{}

func (FirstMatch) Select(set Set) (string, error) {
	if set.Len() == 0 {
		return "", &SelectionError{Kind: set.Kind, Reason: "set is empty"}
	}
	return set.Matches[0], nil
}

// Index selects the artifact at a zero-based position.
type Index int

func (i Index) Select(set Set) (string, error) {
	if int(i) < 0 || int(i) >= set.Len() {
		return "", &SelectionError{
			Kind:   set.Kind,
			Reason: fmt.Sprintf("index %d out of range (%d matches)", int(i), set.Len()),
		}
	}
	return set.Matches[i], nil
}

// PreferSuffix selects the first artifact ending with the earliest listed
// suffix, falling back to the first match when none apply.
type PreferSuffix []string

func (p PreferSuffix) Select(set Set) (string, error) {
	if set.Len() == 0 {
		return "", &SelectionError{Kind: set.Kind, Reason: "set is empty"}
	}
	for _, suffix := range p {
		for _, match := range set.Matches {
			if strings.HasSuffix(match, suffix) {
				return match, nil
			}
		}
	}
	return set.Matches[0], nil
}
