// Package studytest provides an in-memory study.Service for tests.
package studytest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ehr/ocbridge/internal/domain/study"
)

// Fake is an in-memory remote study service. The zero value is not usable;
// call New.
type Fake struct {
	mu      sync.Mutex
	listing study.Listing
	remote  map[study.Key]*remoteStudy
	nextID  int

	// Errs injects failures by operation name, e.g. "PopulateStudy".
	Errs map[string]error

	Calls     map[string]int
	Created   []string
	Scheduled []string
	Imported  [][]byte
}

type remoteStudy struct {
	events   []study.EventDefinition
	subjects []*study.StudySubject
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		remote: make(map[study.Key]*remoteStudy),
		Errs:   make(map[string]error),
		Calls:  make(map[string]int),
	}
}

// AddStudy registers a study with the given event definitions.
func (f *Fake) AddStudy(identifier, oid string, events ...study.EventDefinition) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listing.Studies = append(f.listing.Studies, study.ListedStudy{Identifier: identifier, OID: oid, Name: identifier})
	f.remote[study.Key{StudyName: identifier}] = &remoteStudy{events: events}
	return f
}

// AddSite registers a site under an existing study; it shares the
// study's event definitions.
func (f *Fake) AddSite(studyIdentifier, siteIdentifier, siteOID string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.listing.Studies {
		if s.Identifier == studyIdentifier {
			f.listing.Studies[i].Sites = append(f.listing.Studies[i].Sites,
				study.ListedSite{Identifier: siteIdentifier, OID: siteOID, Name: siteIdentifier})
		}
	}
	parent := f.remote[study.Key{StudyName: studyIdentifier}]
	f.remote[study.Key{StudyName: studyIdentifier, SiteName: siteIdentifier}] = &remoteStudy{events: parent.events}
	return f
}

// AddSubject enrolls a subject remotely, with optional scheduled events.
func (f *Fake) AddSubject(key study.Key, label string, eventOIDs ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs := f.remote[key]
	sub := &study.StudySubject{Label: label, OID: SubjectOID(label)}
	for _, oid := range eventOIDs {
		sub.Events = append(sub.Events, &study.ScheduledEvent{EventOID: oid, Ordinal: "1"})
	}
	rs.subjects = append(rs.subjects, sub)
	return f
}

// SubjectOID is the OID the fake assigns to a label.
func SubjectOID(label string) string {
	return "SS_" + strings.ToUpper(strings.NewReplacer("-", "", " ", "", "_", "").Replace(label))
}

// RemoteSubject returns the remote copy of a subject.
func (f *Fake) RemoteSubject(key study.Key, label string) *study.StudySubject {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs, ok := f.remote[key]
	if !ok {
		return nil
	}
	for _, s := range rs.subjects {
		if s.Label == label {
			return s
		}
	}
	return nil
}

func (f *Fake) enter(op string) error {
	f.Calls[op]++
	return f.Errs[op]
}

func (f *Fake) lookup(st *study.Study) (*remoteStudy, error) {
	rs, ok := f.remote[st.Key()]
	if !ok {
		return nil, &study.RemoteError{Operation: "lookup", Messages: []string{fmt.Sprintf("unknown study %s", st.Key())}}
	}
	return rs, nil
}

func (f *Fake) ListAllStudies(_ context.Context) (*study.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListAllStudies"); err != nil {
		return nil, err
	}
	l := f.listing
	return &l, nil
}

func (f *Fake) FindStudy(_ context.Context, listing *study.Listing, identifier string, byOID bool) (*study.Study, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FindStudy"); err != nil {
		return nil, err
	}
	if listing == nil {
		listing = &f.listing
	}
	return study.Find(listing, identifier, byOID)
}

func (f *Fake) PopulateStudy(_ context.Context, st *study.Study) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PopulateStudy"); err != nil {
		return err
	}
	rs, err := f.lookup(st)
	if err != nil {
		return err
	}
	st.Events = append([]study.EventDefinition(nil), rs.events...)
	st.Subjects = nil
	for _, rsub := range rs.subjects {
		sub := study.NewStudySubject(st)
		sub.Label = rsub.Label
		for _, e := range rsub.Events {
			ev := &study.ScheduledEvent{EventOID: e.EventOID, Ordinal: e.Ordinal, StartDate: e.StartDate}
			if def, ok := st.EventDefinition(e.EventOID); ok {
				ev.EventName = def.Name
			}
			sub.Events = append(sub.Events, ev)
		}
		st.Subjects = append(st.Subjects, sub)
	}
	return nil
}

func (f *Fake) FetchEventDefinitions(_ context.Context, st *study.Study) ([]study.EventDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FetchEventDefinitions"); err != nil {
		return nil, err
	}
	rs, err := f.lookup(st)
	if err != nil {
		return nil, err
	}
	return append([]study.EventDefinition(nil), rs.events...), nil
}

func (f *Fake) ResolveSubjectOID(_ context.Context, sub *study.StudySubject) (study.SubjectLookup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ResolveSubjectOID"); err != nil {
		return study.SubjectLookup{}, err
	}
	rs, err := f.lookup(sub.Study)
	if err != nil {
		return study.SubjectLookup{}, err
	}
	if sub.Label == "" && sub.OID == "" {
		return study.NotFound("subject has neither label nor OID"), nil
	}
	for _, r := range rs.subjects {
		if sub.Label != "" && r.Label == sub.Label {
			return study.Found(r.OID), nil
		}
		if sub.Label == "" && r.OID == sub.OID {
			sub.Label = r.Label
			if sub.DateOfRegistration == "" {
				sub.DateOfRegistration = r.DateOfRegistration
			}
			return study.Found(r.OID), nil
		}
	}
	if sub.Label == "" {
		return study.NotFound("no study subject with OID " + sub.OID), nil
	}
	return study.NotFound("StudySubject not found"), nil
}

func (f *Fake) VerifySubjectInStudy(ctx context.Context, sub *study.StudySubject) error {
	f.mu.Lock()
	err := f.enter("VerifySubjectInStudy")
	f.mu.Unlock()
	if err != nil {
		return err
	}
	lookup, err := f.ResolveSubjectOID(ctx, sub)
	if err != nil {
		return err
	}
	if !lookup.Found {
		return &study.SubjectNotFoundError{
			StudyName: sub.Study.Name,
			SiteName:  sub.Study.SiteName,
			Label:     sub.Handle(),
			Reason:    lookup.Reason,
		}
	}
	sub.OID = lookup.OID
	return nil
}

func (f *Fake) SubjectHasEvent(_ context.Context, sub *study.StudySubject, eventOID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SubjectHasEvent"); err != nil {
		return false, err
	}
	rs, err := f.lookup(sub.Study)
	if err != nil {
		return false, err
	}
	for _, r := range rs.subjects {
		if sub.Label == "" || r.Label != sub.Label {
			continue
		}
		for _, e := range r.Events {
			if e.EventOID == eventOID {
				return true, nil
			}
		}
		return false, nil
	}
	return false, &study.SubjectNotFoundError{
		StudyName: sub.Study.Name,
		SiteName:  sub.Study.SiteName,
		Label:     sub.Handle(),
		Reason:    "not enrolled",
	}
}

// FetchStudyMetadata renders a minimal metadata document listing the
// study's event definitions.
func (f *Fake) FetchStudyMetadata(_ context.Context, st *study.Study) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FetchStudyMetadata"); err != nil {
		return nil, err
	}
	rs, err := f.lookup(st)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<ODM><Study OID="%s"><MetaDataVersion OID="v1.0.0">`, st.EffectiveOID())
	for _, e := range rs.events {
		fmt.Fprintf(&b, `<StudyEventDef OID="%s" Name="%s"/>`, e.OID, e.Name)
	}
	b.WriteString(`</MetaDataVersion></Study></ODM>`)
	return []byte(b.String()), nil
}

func (f *Fake) CreateSubject(_ context.Context, sub *study.StudySubject) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateSubject"); err != nil {
		return err
	}
	rs, err := f.lookup(sub.Study)
	if err != nil {
		return err
	}
	if sub.Label == "" {
		f.nextID++
		sub.Label = fmt.Sprintf("AUTO-%d", f.nextID)
	}
	for _, r := range rs.subjects {
		if r.Label == sub.Label {
			return &study.RemoteError{Operation: "create", Messages: []string{"label already in use"}}
		}
	}
	rs.subjects = append(rs.subjects, &study.StudySubject{
		Label:              sub.Label,
		OID:                SubjectOID(sub.Label),
		PersonID:           sub.PersonID,
		DateOfBirth:        sub.DateOfBirth,
		Sex:                sub.Sex,
		DateOfRegistration: sub.DateOfRegistration,
	})
	f.Created = append(f.Created, sub.Label)
	return nil
}

func (f *Fake) ScheduleEvent(_ context.Context, sub *study.StudySubject, ev *study.ScheduledEvent) (study.ScheduleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ScheduleEvent"); err != nil {
		return study.ScheduleResult{}, err
	}
	if sub.Label == "" {
		return study.ScheduleResult{}, &study.RemoteError{Operation: "schedule", Messages: []string{"subject " + sub.OID + " has no label"}}
	}
	rs, err := f.lookup(sub.Study)
	if err != nil {
		return study.ScheduleResult{}, err
	}
	for _, r := range rs.subjects {
		if r.Label != sub.Label {
			continue
		}
		ordinal := 1
		for _, e := range r.Events {
			if e.EventOID == ev.EventOID {
				ordinal++
			}
		}
		r.Events = append(r.Events, &study.ScheduledEvent{
			EventOID:  ev.EventOID,
			StartDate: ev.StartDate,
			Ordinal:   fmt.Sprint(ordinal),
		})
		f.Scheduled = append(f.Scheduled, sub.Label+"/"+ev.EventOID)
		return study.ScheduleResult{
			EventDefinitionOID: ev.EventOID,
			StudySubjectOID:    r.OID,
			Ordinal:            fmt.Sprint(ordinal),
		}, nil
	}
	return study.ScheduleResult{}, &study.RemoteError{Operation: "schedule", Messages: []string{"subject does not exist"}}
}

func (f *Fake) ImportODM(_ context.Context, odm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ImportODM"); err != nil {
		return err
	}
	f.Imported = append(f.Imported, odm)
	return nil
}

var _ study.Service = (*Fake)(nil)
