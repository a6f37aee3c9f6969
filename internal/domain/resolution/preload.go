package resolution

import (
	"context"

	"github.com/beevik/etree"

	"github.com/ehr/ocbridge/internal/domain/study"
	"github.com/ehr/ocbridge/internal/odm"
)

// block is one ClinicalData element with its fully populated study.
type block struct {
	node     *etree.Element
	study    *study.Study
	subjects []*etree.Element
}

// fullPreload reads the whole document and loads every referenced study
// before any remote subject or event is created. The plan is checked
// against the preloaded state so that a document that is bound to fail
// does not leave half-created subjects behind; then the mutations are
// applied in document order and the annotations stripped.
func (s *Service) fullPreload(ctx context.Context, doc *odm.Document, res *Result) error {
	s.logger.Debug().Msg("resolving study with full preload")
	listing, err := s.svc.ListAllStudies(ctx)
	if err != nil {
		return err
	}
	s.logger.Debug().Int("studies", len(listing.Studies)).Msg("fetched study listing")

	nodes, err := doc.Query(odm.PathClinicalData)
	if err != nil {
		return err
	}
	s.logger.Info().Int("clinical_data", len(nodes)).Msg("processing clinical data")

	blocks := make([]block, 0, len(nodes))
	for _, cd := range nodes {
		st, err := s.resolveStudy(listing, cd)
		if err != nil {
			return err
		}
		st, err = s.dir.GetOrPopulate(ctx, st)
		if err != nil {
			return err
		}
		addStudyRef(res, st)
		subjects, err := odm.Query(cd, odm.PathSubjectData)
		if err != nil {
			return err
		}
		blocks = append(blocks, block{node: cd, study: st, subjects: subjects})
	}

	if err := checkPlan(blocks); err != nil {
		return err
	}

	for _, b := range blocks {
		for _, sd := range b.subjects {
			sub, err := s.reconcileSubject(ctx, b.study, sd, true, res)
			if err != nil {
				return err
			}
			if err := s.reconcileEvents(ctx, b.study, sub, sd, false, res); err != nil {
				return err
			}
		}
	}

	res.Cleaned = odm.Clean(doc)
	s.logger.Debug().Int("attributes", res.Cleaned).Msg("removed resolution annotations")
	return nil
}

// checkPlan validates every subject and event node against the preloaded
// studies without calling the remote service. Subjects identified by an
// OID the study does not know yet are left to the presence check.
func checkPlan(blocks []block) error {
	planned := make(map[study.Key]map[string]bool)
	plannedEvents := make(map[string]bool)
	for _, b := range blocks {
		key := b.study.Key()
		if planned[key] == nil {
			planned[key] = make(map[string]bool)
		}
		for _, sd := range b.subjects {
			built, err := buildSubject(b.study, sd)
			if err != nil {
				return err
			}
			existing := b.study.Subject(built)
			known := existing != nil || planned[key][built.Label]
			if built.Label != "" && !known {
				if !odm.ShouldCreate(sd) {
					return &study.SubjectNotFoundError{
						StudyName: b.study.Name,
						SiteName:  b.study.SiteName,
						Label:     built.Label,
						Reason:    "not present in study",
					}
				}
				planned[key][built.Label] = true
			}

			events, err := odm.Query(sd, odm.PathStudyEventData)
			if err != nil {
				return err
			}
			for _, ed := range events {
				eventOID, err := odm.Attr(ed, attrStudyEventOID)
				if err != nil {
					return err
				}
				if existing != nil && existing.HasEvent(eventOID) {
					continue
				}
				eventKey := key.String() + "|" + built.Label + "|" + eventOID
				if built.Label != "" && plannedEvents[eventKey] {
					continue
				}
				if built.Label == "" && !odm.ShouldCreate(ed) {
					// Scheduled state of subjects known only by OID is
					// checked when the subject has been resolved.
					continue
				}
				if !odm.ShouldCreate(ed) {
					return &study.EventNotFoundError{EventOID: eventOID, Label: built.Label}
				}
				if _, ok := b.study.EventDefinition(eventOID); !ok {
					return &study.EventNotFoundError{EventOID: eventOID, Label: built.Label}
				}
				plannedEvents[eventKey] = true
			}
		}
	}
	return nil
}
