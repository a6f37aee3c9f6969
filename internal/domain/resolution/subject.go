package resolution

import (
	"context"
	"fmt"

	"github.com/beevik/etree"

	"github.com/ehr/ocbridge/internal/domain/study"
	"github.com/ehr/ocbridge/internal/odm"
)

// SubjectData attributes read when building a subject.
const (
	attrSubjectKey         = "SubjectKey"
	attrDateOfBirth        = odm.ExtensionNamespace + ":DateOfBirth"
	attrDateOfRegistration = odm.ExtensionNamespace + ":DateOfRegistration"
	attrSex                = odm.ExtensionNamespace + ":Sex"
	attrPersonID           = odm.ExtensionNamespace + ":UniqueIdentifier"
)

// buildSubject extracts a candidate subject from a SubjectData node.
// Depending on the translate policy the SubjectKey is either the label or
// the OID. Attributes holding the sentinel are ignored.
func buildSubject(st *study.Study, node *etree.Element) (*study.StudySubject, error) {
	if _, err := odm.Attr(node, attrSubjectKey); err != nil {
		return nil, err
	}
	sub := study.NewStudySubject(st)
	var handle string
	for _, a := range odm.Attrs(node) {
		switch a.FullKey() {
		case attrDateOfBirth:
			sub.DateOfBirth = a.Value
		case attrDateOfRegistration:
			sub.DateOfRegistration = a.Value
		case attrSex:
			sub.Sex = a.Value
		case attrSubjectKey:
			handle = a.Value
		case attrPersonID:
			sub.PersonID = a.Value
		}
	}
	if odm.ShouldTranslate(node) {
		sub.Label = handle
	} else {
		sub.OID = handle
	}
	return sub, nil
}

// candidate returns the subject reconciliation should operate on: the
// instance already in the study when one with the same label or OID
// exists, otherwise the freshly built one.
func candidate(st *study.Study, built *study.StudySubject) *study.StudySubject {
	if existing := st.Subject(built); existing != nil {
		return existing
	}
	return built
}

// reconcileSubject resolves the remote OID of the subject described by
// node, creating the subject when it is missing and policy allows. On
// success the SubjectKey attribute carries the OID and the node is marked
// as no longer needing translation; on failure it is left untouched.
func (s *Service) reconcileSubject(ctx context.Context, st *study.Study, node *etree.Element, reuse bool, res *Result) (*study.StudySubject, error) {
	sub, err := buildSubject(st, node)
	if err != nil {
		return nil, err
	}
	if reuse {
		sub = candidate(st, sub)
	}
	log := s.logger.With().Str("study", st.Key().String()).Str("subject", sub.Handle()).Logger()

	for _, h := range s.subjectHooks {
		if err := h.HandleSubject(ctx, node, sub); err != nil {
			return nil, fmt.Errorf("subject hook: %w", err)
		}
	}

	lookup, err := s.svc.ResolveSubjectOID(ctx, sub)
	if err != nil {
		return nil, err
	}
	if !lookup.Found {
		if !odm.ShouldCreate(node) {
			log.Info().Str("reason", lookup.Reason).Msg("subject not found and creation not allowed")
			return nil, &study.SubjectNotFoundError{
				StudyName: st.Name,
				SiteName:  st.SiteName,
				Label:     sub.Handle(),
				Reason:    lookup.Reason,
			}
		}
		log.Info().Msg("creating study subject")
		if err := s.svc.CreateSubject(ctx, sub); err != nil {
			return nil, err
		}
		if err := s.svc.VerifySubjectInStudy(ctx, sub); err != nil {
			return nil, err
		}
		lookup = study.Found(sub.OID)
		res.Created = append(res.Created, sub.Label)
		s.metrics.SubjectCreated()
	}

	sub.OID = lookup.OID
	sub = st.AddSubject(sub)
	odm.SetAttr(node, attrSubjectKey, sub.OID)
	markTranslated(node)
	res.Subjects = append(res.Subjects, SubjectRef{Study: st.Name, Label: sub.Label, OID: sub.OID})
	log.Debug().Str("oid", sub.OID).Msg("subject resolved")
	return sub, nil
}

// markTranslated records that a node whose identifier was a label now
// carries the OID, so resolving the rewritten document again does not
// read the OID as a label.
func markTranslated(node *etree.Element) {
	if odm.ShouldTranslate(node) {
		odm.SetAttr(node, odm.AttrTranslateOID, "false")
	}
}
