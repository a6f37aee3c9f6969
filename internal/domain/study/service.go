package study

import "context"

// SubjectLookup is the outcome of a subject presence check: either the
// subject was found and carries its OID, or it was not.
type SubjectLookup struct {
	Found bool
	OID   string
	// Reason is the service's explanation when the subject was not found.
	Reason string
}

// Found returns a lookup for an existing subject.
func Found(oid string) SubjectLookup { return SubjectLookup{Found: true, OID: oid} }

// NotFound returns a lookup for an absent subject.
func NotFound(reason string) SubjectLookup { return SubjectLookup{Reason: reason} }

// ScheduleResult is the service's acknowledgement of a scheduled event.
type ScheduleResult struct {
	EventDefinitionOID string
	StudySubjectOID    string
	Ordinal            string
}

// Service is the remote clinical-trial management system as seen by the
// resolver. Not-found answers of the presence check are a SubjectLookup,
// not an error; every returned error is fatal to the caller.
type Service interface {
	ListAllStudies(ctx context.Context) (*Listing, error)
	FindStudy(ctx context.Context, listing *Listing, identifier string, byOID bool) (*Study, error)
	// PopulateStudy replaces the study's event definitions and subjects,
	// including each subject's scheduled events, with the remote state.
	PopulateStudy(ctx context.Context, st *Study) error
	FetchEventDefinitions(ctx context.Context, st *Study) ([]EventDefinition, error)
	// FetchStudyMetadata returns the study's metadata ODM document.
	FetchStudyMetadata(ctx context.Context, st *Study) ([]byte, error)
	// ResolveSubjectOID checks that the subject is enrolled. A subject known
	// only by OID is matched against the enrolled subjects and, when found,
	// gets its label filled in.
	ResolveSubjectOID(ctx context.Context, sub *StudySubject) (SubjectLookup, error)
	// VerifySubjectInStudy is ResolveSubjectOID for callers that need the
	// subject to exist: absence is a *SubjectNotFoundError and the OID is
	// stored on sub.
	VerifySubjectInStudy(ctx context.Context, sub *StudySubject) error
	// SubjectHasEvent reports whether an event with the given OID is
	// scheduled remotely for the subject. The subject must be enrolled.
	SubjectHasEvent(ctx context.Context, sub *StudySubject, eventOID string) (bool, error)
	// CreateSubject enrolls sub. The service may assign the label, in which
	// case sub.Label is updated.
	CreateSubject(ctx context.Context, sub *StudySubject) error
	ScheduleEvent(ctx context.Context, sub *StudySubject, ev *ScheduledEvent) (ScheduleResult, error)
	ImportODM(ctx context.Context, odm []byte) error
}
