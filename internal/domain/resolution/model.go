package resolution

import (
	"time"

	"github.com/google/uuid"
)

// Mode is the resolution strategy selected by the document.
type Mode string

const (
	// ModeFullPreload loads every referenced study completely before any
	// subject is touched, and strips annotations afterwards.
	ModeFullPreload Mode = "full-preload"
	// ModeLightweight resolves each subject independently.
	ModeLightweight Mode = "lightweight"
)

// Result summarises one resolution run.
type Result struct {
	Mode      Mode          `json:"mode"`
	Studies   []StudyRef    `json:"studies"`
	Subjects  []SubjectRef  `json:"subjects"`
	Created   []string      `json:"created_subjects"`
	Scheduled []EventRef    `json:"scheduled_events"`
	Cleaned   int           `json:"cleaned_attributes"`
	Duration  time.Duration `json:"duration_ns"`
}

// StudyRef identifies a study touched by a run.
type StudyRef struct {
	Name     string `json:"name"`
	SiteName string `json:"site_name,omitempty"`
	OID      string `json:"oid"`
}

// SubjectRef is a subject resolved by a run.
type SubjectRef struct {
	Study string `json:"study"`
	Label string `json:"label"`
	OID   string `json:"oid"`
}

// EventRef is an event scheduled by a run.
type EventRef struct {
	Label     string     `json:"label"`
	EventOID  string     `json:"event_oid"`
	StartDate *time.Time `json:"start_date,omitempty"`
	Ordinal   string     `json:"ordinal,omitempty"`
}

// Run statuses recorded in the journal.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is a journal entry for one resolution run.
type Run struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Source          string    `db:"source" json:"source"`
	RequestID       string    `db:"request_id" json:"request_id,omitempty"`
	Mode            Mode      `db:"mode" json:"mode"`
	Status          string    `db:"status" json:"status"`
	Error           *string   `db:"error" json:"error,omitempty"`
	Studies         []string  `db:"studies" json:"studies"`
	SubjectsCreated int       `db:"subjects_created" json:"subjects_created"`
	EventsScheduled int       `db:"events_scheduled" json:"events_scheduled"`
	StartedAt       time.Time `db:"started_at" json:"started_at"`
	FinishedAt      time.Time `db:"finished_at" json:"finished_at"`
}

func newRun(meta RunMeta, res *Result, started time.Time, err error) *Run {
	run := &Run{
		ID:         uuid.New(),
		Source:     meta.Source,
		RequestID:  meta.RequestID,
		Mode:       res.Mode,
		Status:     RunSucceeded,
		Studies:    []string{},
		StartedAt:  started,
		FinishedAt: started.Add(res.Duration),
	}
	for _, s := range res.Studies {
		run.Studies = append(run.Studies, s.Name)
	}
	run.SubjectsCreated = len(res.Created)
	run.EventsScheduled = len(res.Scheduled)
	if err != nil {
		msg := err.Error()
		run.Status = RunFailed
		run.Error = &msg
	}
	return run
}
