package openclinica

import (
	"context"

	"github.com/ehr/ocbridge/internal/domain/study"
)

// eventLocation is sent with every scheduled event; the service requires a
// location although its user interface does not.
const eventLocation = "N/A"

// ScheduleEvent schedules ev for sub and returns the ordinal assigned by
// the service.
func (c *Client) ScheduleEvent(ctx context.Context, sub *study.StudySubject, ev *study.ScheduledEvent) (study.ScheduleResult, error) {
	const op = "scheduleEvent"
	if sub.Label == "" {
		return study.ScheduleResult{}, &study.RemoteError{Operation: op, Messages: []string{"subject " + sub.OID + " has no label"}}
	}
	bean := eventBean{
		StudySubjectRef:    studySubjectRef{Label: sub.Label},
		StudyRef:           refFor(sub.Study),
		EventDefinitionOID: ev.EventOID,
		Location:           eventLocation,
	}
	if ev.StartDate != nil {
		bean.StartDate = ev.StartDate.Format("2006-01-02")
		if h, m, s := ev.StartDate.Clock(); h != 0 || m != 0 || s != 0 {
			bean.StartTime = ev.StartDate.Format("15:04")
		}
	}

	var resp scheduleResponse
	if err := c.call(ctx, serviceEvent, op, scheduleRequest{Event: []eventBean{bean}}, &resp); err != nil {
		return study.ScheduleResult{}, err
	}
	if !resp.ok() {
		return study.ScheduleResult{}, &study.RemoteError{Operation: op, Messages: resp.messages()}
	}

	c.logger.Info().
		Str("event_oid", resp.EventDefinitionOID).
		Str("subject_oid", resp.StudySubjectOID).
		Str("ordinal", resp.StudyEventOrdinal).
		Msg("scheduled event")
	return study.ScheduleResult{
		EventDefinitionOID: resp.EventDefinitionOID,
		StudySubjectOID:    resp.StudySubjectOID,
		Ordinal:            resp.StudyEventOrdinal,
	}, nil
}
