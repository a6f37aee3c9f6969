package study

import (
	"fmt"
	"time"
)

// Key identifies a Study in the directory: study name plus optional site.
type Key struct {
	StudyName string
	SiteName  string
}

func (k Key) String() string {
	return fmt.Sprintf("Study: %s, Site: %s", k.StudyName, k.SiteName)
}

// EventDefinition is a study event as defined in the remote study.
type EventDefinition struct {
	OID  string `json:"oid"`
	Name string `json:"name"`
}

// Study is a remote study, or a site within one, together with the local
// view of its event definitions and subjects.
type Study struct {
	Name     string            `json:"name"`
	SiteName string            `json:"site_name,omitempty"`
	OID      string            `json:"oid"`
	SiteOID  string            `json:"site_oid,omitempty"`
	Events   []EventDefinition `json:"events,omitempty"`
	Subjects []*StudySubject   `json:"subjects,omitempty"`
}

// EffectiveOID is the OID clinical data must reference: the site OID for
// a site-scoped study, the study OID otherwise.
func (s *Study) EffectiveOID() string {
	if s.SiteOID != "" {
		return s.SiteOID
	}
	return s.OID
}

// Key returns the composite directory key.
func (s *Study) Key() Key {
	return Key{StudyName: s.Name, SiteName: s.SiteName}
}

// HasSite reports whether the study is scoped to a site.
func (s *Study) HasSite() bool {
	return s.SiteName != ""
}

// EventDefinition returns the definition with the given OID.
func (s *Study) EventDefinition(oid string) (EventDefinition, bool) {
	for _, e := range s.Events {
		if e.OID == oid {
			return e, true
		}
	}
	return EventDefinition{}, false
}

// SubjectByLabel returns the subject with the given label, or nil.
func (s *Study) SubjectByLabel(label string) *StudySubject {
	if label == "" {
		return nil
	}
	for _, sub := range s.Subjects {
		if sub.Label == label {
			return sub
		}
	}
	return nil
}

// SubjectByOID returns the subject with the given OID, or nil.
func (s *Study) SubjectByOID(oid string) *StudySubject {
	if oid == "" {
		return nil
	}
	for _, sub := range s.Subjects {
		if sub.OID == oid {
			return sub
		}
	}
	return nil
}

// Subject returns the subject matching sub by label, or by OID when the
// label does not match.
func (s *Study) Subject(sub *StudySubject) *StudySubject {
	if existing := s.SubjectByLabel(sub.Label); existing != nil {
		return existing
	}
	return s.SubjectByOID(sub.OID)
}

// AddSubject adds sub to the study unless the same subject, by label or
// OID, is already present. In that case the existing instance is returned
// with its missing label or OID taken from sub.
func (s *Study) AddSubject(sub *StudySubject) *StudySubject {
	if existing := s.Subject(sub); existing != nil {
		if existing.Label == "" {
			existing.Label = sub.Label
		}
		if existing.OID == "" {
			existing.OID = sub.OID
		}
		return existing
	}
	sub.Study = s
	s.Subjects = append(s.Subjects, sub)
	return sub
}

// StudySubject is a subject enrolled in a Study, identified by its label.
type StudySubject struct {
	Study              *Study            `json:"-"`
	Label              string            `json:"label"`
	OID                string            `json:"oid,omitempty"`
	PersonID           string            `json:"person_id,omitempty"`
	DateOfBirth        string            `json:"date_of_birth,omitempty"`
	Sex                string            `json:"sex,omitempty"`
	DateOfRegistration string            `json:"date_of_registration,omitempty"`
	SiteOID            string            `json:"site_oid,omitempty"`
	Events             []*ScheduledEvent `json:"events,omitempty"`
}

// NewStudySubject returns an empty subject bound to st.
func NewStudySubject(st *Study) *StudySubject {
	return &StudySubject{Study: st, SiteOID: st.SiteOID}
}

// Event returns the scheduled event with the given OID, or nil.
func (s *StudySubject) Event(eventOID string) *ScheduledEvent {
	for _, e := range s.Events {
		if e.EventOID == eventOID {
			return e
		}
	}
	return nil
}

// HasEvent reports whether an event with the given OID is scheduled.
func (s *StudySubject) HasEvent(eventOID string) bool {
	return s.Event(eventOID) != nil
}

// AddEvent schedules ev locally. At most one event per OID is kept; the
// existing one wins.
func (s *StudySubject) AddEvent(ev *ScheduledEvent) *ScheduledEvent {
	if existing := s.Event(ev.EventOID); existing != nil {
		return existing
	}
	s.Events = append(s.Events, ev)
	return ev
}

// Handle is the label, or the OID of a subject known only by OID.
func (s *StudySubject) Handle() string {
	if s.Label != "" {
		return s.Label
	}
	return s.OID
}

func (s *StudySubject) String() string {
	return fmt.Sprintf("StudySubject{label=%q oid=%q}", s.Label, s.OID)
}

// ScheduledEvent is an occurrence of an event definition for a subject.
type ScheduledEvent struct {
	EventOID  string     `json:"event_oid"`
	EventName string     `json:"event_name,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	Ordinal   string     `json:"ordinal,omitempty"`
}

// NewScheduledEvent builds an unscheduled event from its definition.
func NewScheduledEvent(def EventDefinition) *ScheduledEvent {
	return &ScheduledEvent{EventOID: def.OID, EventName: def.Name}
}

// startDateLayouts are tried in order when reading an event start date.
var startDateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
}

// ParseStartDate parses the start date formats found in ODM documents.
func ParseStartDate(s string) (time.Time, error) {
	for _, layout := range startDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised start date %q", s)
}

// SetStartDate parses and sets the start date.
func (e *ScheduledEvent) SetStartDate(s string) error {
	t, err := ParseStartDate(s)
	if err != nil {
		return err
	}
	e.StartDate = &t
	return nil
}

// Listing is the set of studies (and their sites) visible to the caller's
// credentials, as returned by the remote list-all operation.
type Listing struct {
	Studies []ListedStudy `json:"studies" yaml:"studies"`
}

// ListedStudy is one entry of a Listing.
type ListedStudy struct {
	Identifier string       `json:"identifier" yaml:"identifier"`
	OID        string       `json:"oid" yaml:"oid"`
	Name       string       `json:"name" yaml:"name"`
	Sites      []ListedSite `json:"sites,omitempty" yaml:"sites,omitempty"`
}

// ListedSite is a site belonging to a ListedStudy.
type ListedSite struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	OID        string `json:"oid" yaml:"oid"`
	Name       string `json:"name" yaml:"name"`
}
