package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidIdentifier   = errors.New("invalid file identifier")
	ErrMissingResolvedPath = errors.New("metadata response has no file_path")
)

type Stage string

const (
	StageMetadata Stage = "metadata"
	StageContent  Stage = "content"
)

// MetadataError is returned when getFile did not report success. Description
// carries the upstream diagnostic with credentials removed.
type MetadataError struct {
	Description string
	Err         error
}

// Error leaves out Err since it may embed the request URL.
func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata resolution failed: %s", e.Description)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

type TimeoutError struct {
	Stage Stage
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s request timed out", e.Stage)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// ContentError is returned when the content host answers outside the 2xx range.
type ContentError struct {
	StatusCode int
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("content host returned status %d", e.StatusCode)
}

// UnreachableError is returned when no response arrived from an upstream host,
// e.g. connection refused or reset. Err must not carry the request URL.
type UnreachableError struct {
	Stage Stage
	Err   error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s host unreachable: %v", e.Stage, e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}
