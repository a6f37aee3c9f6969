package resolution

import (
	"context"
	"errors"
	"fmt"

	"github.com/beevik/etree"

	"github.com/ehr/ocbridge/internal/domain/study"
	"github.com/ehr/ocbridge/internal/odm"
)

const (
	attrStudyEventOID = "StudyEventOID"
	attrStartDate     = odm.ExtensionNamespace + ":StartDate"
)

// reconcileEvent makes sure the event described by node is scheduled for
// sub. An event that is already scheduled is left alone.
func (s *Service) reconcileEvent(ctx context.Context, st *study.Study, sub *study.StudySubject, node *etree.Element, remoteCheck bool, res *Result) error {
	eventOID, err := odm.Attr(node, attrStudyEventOID)
	if err != nil {
		return err
	}

	ev := sub.Event(eventOID)
	if ev == nil && remoteCheck {
		if ev, err = s.remoteEvent(ctx, st, sub, eventOID); err != nil {
			return err
		}
	}
	if ev == nil {
		if !odm.ShouldCreate(node) {
			return &study.EventNotFoundError{EventOID: eventOID, Label: sub.Label}
		}
		def, ok := st.EventDefinition(eventOID)
		if !ok {
			return &study.EventNotFoundError{EventOID: eventOID, Label: sub.Label}
		}
		ev = study.NewScheduledEvent(def)
		s.readStartDate(node, ev)

		s.logger.Info().
			Str("label", sub.Label).
			Str("event_oid", eventOID).
			Interface("start_date", ev.StartDate).
			Msg("scheduling event")
		sr, err := s.svc.ScheduleEvent(ctx, sub, ev)
		if err != nil {
			return err
		}
		ev.Ordinal = sr.Ordinal
		ev = sub.AddEvent(ev)
		res.Scheduled = append(res.Scheduled, EventRef{
			Label:     sub.Label,
			EventOID:  ev.EventOID,
			StartDate: ev.StartDate,
			Ordinal:   ev.Ordinal,
		})
		s.metrics.EventScheduled()
	}

	for _, h := range s.eventHooks {
		if err := h.HandleEvent(ctx, node, sub, ev); err != nil {
			return fmt.Errorf("event hook: %w", err)
		}
	}
	return nil
}

// remoteEvent returns the event recorded locally for sub when the service
// already has it scheduled, and nil otherwise.
func (s *Service) remoteEvent(ctx context.Context, st *study.Study, sub *study.StudySubject, eventOID string) (*study.ScheduledEvent, error) {
	has, err := s.svc.SubjectHasEvent(ctx, sub, eventOID)
	if err != nil || !has {
		return nil, err
	}
	ev := &study.ScheduledEvent{EventOID: eventOID}
	if def, ok := st.EventDefinition(eventOID); ok {
		ev.EventName = def.Name
	}
	s.logger.Debug().Str("label", sub.Label).Str("event_oid", eventOID).Msg("event already scheduled")
	return sub.AddEvent(ev), nil
}

// readStartDate sets the event's start date from the node. The start date
// is optional, so a missing or unparsable value is logged and skipped.
func (s *Service) readStartDate(node *etree.Element, ev *study.ScheduledEvent) {
	raw, err := odm.Attr(node, attrStartDate)
	if err == nil && raw == odm.Sentinel {
		err = errors.New("start date not filled in")
	}
	if err == nil {
		err = ev.SetStartDate(raw)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("event_oid", ev.EventOID).Msg("problem with event start date, ignoring")
	}
}
