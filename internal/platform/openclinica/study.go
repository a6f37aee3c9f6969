package openclinica

import (
	"context"
	"strings"

	"github.com/ehr/ocbridge/internal/domain/study"
)

func refFor(st *study.Study) studyRef {
	ref := studyRef{Identifier: st.Name}
	if st.HasSite() {
		ref.SiteRef = &siteRef{Identifier: st.SiteName}
	}
	return ref
}

// ListAllStudies returns every study, with its sites, the configured user
// has access to.
func (c *Client) ListAllStudies(ctx context.Context) (*study.Listing, error) {
	const op = "listAllStudies"
	var resp listAllStudiesResponse
	if err := c.call(ctx, serviceStudy, op, listAllStudiesRequest{}, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, &study.RemoteError{Operation: op, Messages: resp.messages()}
	}

	listing := &study.Listing{Studies: make([]study.ListedStudy, 0, len(resp.Studies))}
	for _, s := range resp.Studies {
		ls := study.ListedStudy{Identifier: s.Identifier, OID: s.OID, Name: s.Name}
		for _, site := range s.Sites {
			ls.Sites = append(ls.Sites, study.ListedSite{Identifier: site.Identifier, OID: site.OID, Name: site.Name})
		}
		listing.Studies = append(listing.Studies, ls)
	}
	c.logger.Debug().Int("studies", len(listing.Studies)).Msg("listed studies")
	return listing, nil
}

// FindStudy looks identifier up in listing, fetching a fresh listing when
// listing is nil.
func (c *Client) FindStudy(ctx context.Context, listing *study.Listing, identifier string, byOID bool) (*study.Study, error) {
	if listing == nil {
		var err error
		if listing, err = c.ListAllStudies(ctx); err != nil {
			return nil, err
		}
	}
	return study.Find(listing, identifier, byOID)
}

// FetchEventDefinitions lists the event definitions of the study. A study
// without definitions is reported as an error.
func (c *Client) FetchEventDefinitions(ctx context.Context, st *study.Study) ([]study.EventDefinition, error) {
	const op = "listAllEventDefinitions"
	req := listEventDefinitionsRequest{ListAll: eventDefinitionListAll{StudyRef: studyRef{Identifier: st.Name}}}
	var resp listEventDefinitionsResponse
	if err := c.call(ctx, serviceEventDefinition, op, req, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, &study.RemoteError{Operation: op, Messages: resp.messages()}
	}
	if len(resp.Definitions) == 0 {
		return nil, &study.RemoteError{Operation: op, Messages: []string{"cannot retrieve event data or no events defined"}}
	}

	defs := make([]study.EventDefinition, 0, len(resp.Definitions))
	for _, d := range resp.Definitions {
		defs = append(defs, study.EventDefinition{OID: d.OID, Name: d.Name})
	}
	return defs, nil
}

// FetchStudyMetadata returns the metadata ODM of the study.
func (c *Client) FetchStudyMetadata(ctx context.Context, st *study.Study) ([]byte, error) {
	const op = "getMetadata"
	var resp getMetadataResponse
	req := getMetadataRequest{StudyMetadata: siteRef{Identifier: st.Name}}
	if err := c.call(ctx, serviceStudy, op, req, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, &study.RemoteError{Operation: op, Messages: resp.messages()}
	}
	if strings.TrimSpace(resp.ODM) == "" {
		return nil, &study.RemoteError{Operation: op, Messages: []string{"no metadata returned"}}
	}
	return []byte(resp.ODM), nil
}

// PopulateStudy replaces the study's event definitions and subjects with
// the remote state, including every subject's scheduled events. Subject
// OIDs are not fetched; the listing does not carry them.
func (c *Client) PopulateStudy(ctx context.Context, st *study.Study) error {
	defs, err := c.FetchEventDefinitions(ctx, st)
	if err != nil {
		return err
	}
	items, err := c.listAllByStudy(ctx, st)
	if err != nil {
		return err
	}

	st.Events = defs
	st.Subjects = nil
	for _, it := range items {
		sub := study.NewStudySubject(st)
		sub.Label = it.Label
		sub.DateOfRegistration = it.EnrollmentDate
		sub.PersonID = it.Subject.UniqueIdentifier
		sub.Sex = it.Subject.Gender
		sub.DateOfBirth = it.Subject.DateOfBirth
		for _, e := range it.Events {
			ev := &study.ScheduledEvent{EventOID: e.EventDefinitionOID}
			if def, ok := st.EventDefinition(e.EventDefinitionOID); ok {
				ev.EventName = def.Name
			}
			if e.StartDate != "" && ev.SetStartDate(joinDateTime(e.StartDate, e.StartTime)) != nil {
				if err := ev.SetStartDate(e.StartDate); err != nil {
					c.logger.Debug().Err(err).Str("label", it.Label).Str("event_oid", e.EventDefinitionOID).Msg("ignoring unparsable start date")
				}
			}
			sub.Events = append(sub.Events, ev)
		}
		st.AddSubject(sub)
	}
	c.logger.Info().
		Str("study", st.Key().String()).
		Int("events", len(st.Events)).
		Int("subjects", len(st.Subjects)).
		Msg("populated study")
	return nil
}

func joinDateTime(date, clock string) string {
	if date == "" || clock == "" {
		return date
	}
	return date + " " + clock
}
