package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable matches every *UnavailableError
	ErrUnavailable = errors.New("retrieval engine unavailable")

	// ErrManifestInvalid is returned when an index manifest cannot be used
	ErrManifestInvalid = errors.New("invalid index manifest")
)

// UnavailableError reports that a department's engine could not be constructed
type UnavailableError struct {
	DepartmentID int64
	Err          error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("retrieval engine unavailable for department %d: %v", e.DepartmentID, e.Err)
}

// Is makes errors.Is(err, ErrUnavailable) true
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
