package openclinica

import (
	"context"
	"fmt"
	"strings"

	"github.com/ehr/ocbridge/internal/domain/study"
)

func (c *Client) listAllByStudy(ctx context.Context, st *study.Study) ([]subjectItem, error) {
	const op = "listAllByStudy"
	var resp listAllByStudyResponse
	if err := c.call(ctx, serviceStudySubject, op, listAllByStudyRequest{StudyRef: refFor(st)}, &resp); err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, &study.RemoteError{Operation: op, Messages: resp.messages()}
	}
	return resp.Subjects, nil
}

// ResolveSubjectOID asks the service whether the subject is enrolled and
// returns its OID. A failed presence check is reported as NotFound with the
// service's messages as the reason. A subject that carries only an OID is
// looked up among the enrolled subjects and gets its label filled in.
func (c *Client) ResolveSubjectOID(ctx context.Context, sub *study.StudySubject) (study.SubjectLookup, error) {
	if sub.Label == "" {
		if sub.OID == "" {
			return study.NotFound("subject has neither label nor OID"), nil
		}
		return c.findByOID(ctx, sub)
	}
	return c.isStudySubject(ctx, sub.Study, sub.Label, sub.DateOfRegistration)
}

func (c *Client) isStudySubject(ctx context.Context, st *study.Study, label, enrollmentDate string) (study.SubjectLookup, error) {
	const op = "isStudySubject"
	bean := studySubjectBean{Label: label, StudyRef: refFor(st)}
	if c.submitDate {
		bean.EnrollmentDate = enrollmentDate
	}
	var resp isStudySubjectResponse
	if err := c.call(ctx, serviceStudySubject, op, isStudySubjectRequest{StudySubject: bean}, &resp); err != nil {
		return study.SubjectLookup{}, err
	}
	if !resp.ok() {
		return study.NotFound(strings.Join(resp.messages(), "; ")), nil
	}
	if resp.StudySubjectOID == "" {
		return study.NotFound("no OID returned"), nil
	}
	return study.Found(resp.StudySubjectOID), nil
}

// findByOID matches sub.OID against the enrolled subjects. The subject
// listing carries no OIDs, so every listed label is resolved in turn.
func (c *Client) findByOID(ctx context.Context, sub *study.StudySubject) (study.SubjectLookup, error) {
	items, err := c.listAllByStudy(ctx, sub.Study)
	if err != nil {
		return study.SubjectLookup{}, err
	}
	for _, it := range items {
		lookup, err := c.isStudySubject(ctx, sub.Study, it.Label, it.EnrollmentDate)
		if err != nil {
			return study.SubjectLookup{}, err
		}
		if !lookup.Found || lookup.OID != sub.OID {
			continue
		}
		sub.Label = it.Label
		if sub.DateOfRegistration == "" {
			sub.DateOfRegistration = it.EnrollmentDate
		}
		c.logger.Debug().Str("oid", sub.OID).Str("label", sub.Label).Msg("matched study subject by OID")
		return lookup, nil
	}
	return study.NotFound(fmt.Sprintf("no study subject with OID %s", sub.OID)), nil
}

// VerifySubjectInStudy fails with *study.SubjectNotFoundError unless the
// subject is enrolled, and stores the resolved OID on sub.
func (c *Client) VerifySubjectInStudy(ctx context.Context, sub *study.StudySubject) error {
	lookup, err := c.ResolveSubjectOID(ctx, sub)
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

// SubjectHasEvent reports whether the event is scheduled remotely for the
// subject, matched by label in the study's subject listing.
func (c *Client) SubjectHasEvent(ctx context.Context, sub *study.StudySubject, eventOID string) (bool, error) {
	items, err := c.listAllByStudy(ctx, sub.Study)
	if err != nil {
		return false, err
	}
	for _, it := range items {
		if sub.Label == "" || it.Label != sub.Label {
			continue
		}
		for _, e := range it.Events {
			if e.EventDefinitionOID == eventOID {
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

// CreateSubject enrolls the subject. When the study generates labels the
// subject's label is replaced by the one assigned by the service.
func (c *Client) CreateSubject(ctx context.Context, sub *study.StudySubject) error {
	const op = "createStudySubject"
	gender, err := genderOf(sub.Sex)
	if err != nil {
		return &study.RemoteError{Operation: op, Messages: []string{err.Error()}}
	}

	bean := studySubjectBean{
		Label:          sub.Label,
		EnrollmentDate: sub.DateOfRegistration,
		Subject: &subjectBean{
			UniqueIdentifier: sub.PersonID,
			Gender:           gender,
			DateOfBirth:      sub.DateOfBirth,
		},
		StudyRef: refFor(sub.Study),
	}
	var resp createResponse
	if err := c.call(ctx, serviceStudySubject, op, createRequest{StudySubject: []studySubjectBean{bean}}, &resp); err != nil {
		return err
	}
	if !resp.ok() {
		return &study.RemoteError{Operation: op, Messages: resp.messages()}
	}
	if resp.Label != "" && resp.Label != sub.Label {
		c.logger.Info().Str("label", resp.Label).Msg("study subject label assigned by service")
		sub.Label = resp.Label
	}
	return nil
}

// genderOf maps the document's sex value onto the service's gender code.
func genderOf(sex string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(sex)) {
	case "":
		return "", nil
	case "m", "male":
		return "m", nil
	case "f", "female":
		return "f", nil
	default:
		return "", fmt.Errorf("invalid sex %q", sex)
	}
}
