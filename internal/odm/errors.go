package odm

import (
	"errors"
	"fmt"
)

// ErrDocument is matched by every structural document failure.
var ErrDocument = errors.New("odm: document error")

// DocumentError reports malformed or unreadable document structure.
type DocumentError struct {
	Reason string
	Err    error
}

func (e *DocumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("odm: %s: %v", e.Reason, e.Err)
	}
	return "odm: " + e.Reason
}

func (e *DocumentError) Unwrap() error { return e.Err }

// Is makes every DocumentError match ErrDocument.
func (e *DocumentError) Is(target error) bool { return target == ErrDocument }

// MissingAttributeError reports a required attribute that is absent.
type MissingAttributeError struct {
	Element   string
	Attribute string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("odm: element <%s> has no attribute %q", e.Element, e.Attribute)
}

func (e *MissingAttributeError) Is(target error) bool { return target == ErrDocument }
