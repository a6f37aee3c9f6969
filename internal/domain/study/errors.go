package study

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by the not-found errors of this package.
var ErrNotFound = errors.New("not found")

// StudyNotFoundError reports a study or site that does not exist or is not
// visible to the configured credentials. There is no creation path.
type StudyNotFoundError struct {
	Identifier string
	ByOID      bool
}

func (e *StudyNotFoundError) Error() string {
	return fmt.Sprintf("study %q does not exist or user not associated with study", e.Identifier)
}

func (e *StudyNotFoundError) Is(target error) bool { return target == ErrNotFound }

// SubjectNotFoundError reports a subject absent from the remote study.
type SubjectNotFoundError struct {
	StudyName string
	SiteName  string
	Label     string
	Reason    string
}

func (e *SubjectNotFoundError) Error() string {
	msg := fmt.Sprintf("subject %q not found in study %q", e.Label, e.StudyName)
	if e.SiteName != "" {
		msg += fmt.Sprintf(" (site %q)", e.SiteName)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *SubjectNotFoundError) Is(target error) bool { return target == ErrNotFound }

// EventNotFoundError reports an event that is not scheduled for a subject
// and may not be created, or has no definition in the study.
type EventNotFoundError struct {
	EventOID string
	Label    string
}

func (e *EventNotFoundError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("event with OID %q not found for subject %q", e.EventOID, e.Label)
	}
	return fmt.Sprintf("event with OID %q not found", e.EventOID)
}

func (e *EventNotFoundError) Is(target error) bool { return target == ErrNotFound }

// RemoteError is a transport or service failure unrelated to not-found
// semantics. It is never retried by the resolver.
type RemoteError struct {
	Operation string
	Messages  []string
	Err       error
}

func (e *RemoteError) Error() string {
	msg := "remote " + e.Operation + " failed"
	for _, m := range e.Messages {
		msg += ": " + m
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }
