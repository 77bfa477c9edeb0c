package variants

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateVariantKey      = errors.New("duplicate variant key")
	ErrUnknownVariant           = errors.New("unknown variant")
	ErrEmptyVariantMap          = errors.New("variant tables contain no entries")
	ErrMappingSourceUnavailable = errors.New("mapping source unavailable")
)

// DuplicateVariantKeyError names the key and every source that defines it.
type DuplicateVariantKeyError struct {
	Key     string
	Sources []string
}

func (e *DuplicateVariantKeyError) Error() string {
	return fmt.Sprintf("variant %q defined by multiple sources: %s", e.Key, strings.Join(e.Sources, ", "))
}

func (e *DuplicateVariantKeyError) Is(target error) bool {
	return target == ErrDuplicateVariantKey
}

type UnknownVariantError struct {
	Key string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("unknown variant %q", e.Key)
}

func (e *UnknownVariantError) Is(target error) bool {
	return target == ErrUnknownVariant
}

// SourceUnavailableError reports a table that could not be produced at all.
type SourceUnavailableError struct {
	Source string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("mapping source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

func (e *SourceUnavailableError) Is(target error) bool {
	return target == ErrMappingSourceUnavailable
}
