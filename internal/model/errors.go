package model

import (
	"errors"
	"fmt"
)

// Error taxonomy. ErrContextUnavailable aborts a turn before any lock is
// taken; ErrRestoreUnsupported is returned for operations that kept no snapshot.
var (
	ErrStoreUnavailable   = errors.New("scene store unavailable")
	ErrContextUnavailable = errors.New("context unavailable")
	ErrAmbiguousRequest   = errors.New("ambiguous request")
	ErrSessionLocked      = errors.New("a generation session is already running for this project")
	ErrRestoreUnsupported = errors.New("restore is not supported for this operation")
	ErrAlreadyRestored    = errors.New("operation already restored")
	ErrCancelled          = errors.New("cancelled")
	ErrNotFound           = errors.New("not found")
	ErrSceneNotFound      = fmt.Errorf("scene %w", ErrNotFound)
	ErrInvalidTransition  = errors.New("invalid stream transition")
)

// AmbiguousRequestError carries the clarifying question for the user.
type AmbiguousRequestError struct {
	Question string
}

func (e *AmbiguousRequestError) Error() string {
	return "ambiguous request: " + e.Question
}

func (e *AmbiguousRequestError) Is(target error) bool {
	return target == ErrAmbiguousRequest
}

// OperationError is a per-scene execution failure.
type OperationError struct {
	Type    OperationType
	SceneID string
	Err     error
}

func (e *OperationError) Error() string {
	if e.SceneID == "" {
		return fmt.Sprintf("%s failed: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("%s failed for scene %s: %v", e.Type, e.SceneID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
