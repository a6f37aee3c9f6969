// Package resolution reconciles ODM clinical-data documents against the
// remote study service: it resolves study and subject identifiers into
// OIDs, creates missing subjects and schedules missing events as the
// document's policy annotations allow, and rewrites the document in place.
package resolution

import (
	"context"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"

	"github.com/ehr/ocbridge/internal/domain/study"
	"github.com/ehr/ocbridge/internal/odm"
)

const attrStudyOID = "StudyOID"

// Metrics receives run and mutation counts. It may be nil.
type Metrics interface {
	ObserveRun(mode, status string, d time.Duration)
	SubjectCreated()
	EventScheduled()
}

type noopMetrics struct{}

func (noopMetrics) ObserveRun(string, string, time.Duration) {}
func (noopMetrics) SubjectCreated()                          {}
func (noopMetrics) EventScheduled()                          {}

// RunMeta describes where a run came from, for the journal.
type RunMeta struct {
	Source    string
	RequestID string
}

// Service drives resolution runs. One Service owns one study directory;
// runs on the same Service must not overlap.
type Service struct {
	svc          study.Service
	dir          *study.Directory
	logger       zerolog.Logger
	metrics      Metrics
	runs         RunRepository
	subjectHooks []SubjectHook
	eventHooks   []EventHook
	listeners    []RunListener
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default discards output.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithRunRepository records every run in the given journal.
func WithRunRepository(r RunRepository) Option {
	return func(s *Service) { s.runs = r }
}

// WithDirectory uses dir instead of a fresh directory.
func WithDirectory(dir *study.Directory) Option {
	return func(s *Service) { s.dir = dir }
}

// WithSubjectHook adds a hook invoked per SubjectData node.
func WithSubjectHook(h SubjectHook) Option {
	return func(s *Service) { s.subjectHooks = append(s.subjectHooks, h) }
}

// WithEventHook adds a hook invoked per StudyEventData node.
func WithEventHook(h EventHook) Option {
	return func(s *Service) { s.eventHooks = append(s.eventHooks, h) }
}

// WithRunListener adds a listener told about every finished run.
func WithRunListener(l RunListener) Option {
	return func(s *Service) { s.listeners = append(s.listeners, l) }
}

// NewService creates a resolution service on top of the remote study
// service.
func NewService(svc study.Service, opts ...Option) *Service {
	s := &Service{
		svc:     svc,
		logger:  zerolog.Nop(),
		metrics: noopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dir == nil {
		s.dir = study.NewDirectory(svc)
	}
	return s
}

// Directory returns the study directory used by the service.
func (s *Service) Directory() *study.Directory {
	return s.dir
}

// ClearCache drops every cached study.
func (s *Service) ClearCache() {
	s.dir.Clear()
}

// Resolve reconciles doc against the remote service and rewrites it in
// place. The first fatal failure aborts the run; remote subjects and
// events created before it are not rolled back, and the document is left
// partially rewritten.
func (s *Service) Resolve(ctx context.Context, doc *odm.Document) (*Result, error) {
	return s.ResolveWithMeta(ctx, doc, RunMeta{Source: "api"})
}

// ResolveWithMeta is Resolve with journal metadata.
func (s *Service) ResolveWithMeta(ctx context.Context, doc *odm.Document, meta RunMeta) (*Result, error) {
	started := s.now()
	res := &Result{Mode: ModeLightweight}

	err := s.resolve(ctx, doc, res)
	res.Duration = s.now().Sub(started)

	status := RunSucceeded
	if err != nil {
		status = RunFailed
	}
	s.metrics.ObserveRun(string(res.Mode), status, res.Duration)
	s.logger.Info().
		Str("mode", string(res.Mode)).
		Str("status", status).
		Int("subjects_created", len(res.Created)).
		Int("events_scheduled", len(res.Scheduled)).
		Dur("duration", res.Duration).
		Err(err).
		Msg("resolution run finished")

	if s.runs != nil || len(s.listeners) > 0 {
		run := newRun(meta, res, started, err)
		if s.runs != nil {
			if jerr := s.runs.Create(ctx, run); jerr != nil {
				s.logger.Error().Err(jerr).Msg("failed to record resolution run")
			}
		}
		for _, l := range s.listeners {
			l.RunFinished(ctx, run)
		}
	}
	if err != nil {
		return res, err
	}
	return res, nil
}

func (s *Service) resolve(ctx context.Context, doc *odm.Document, res *Result) error {
	roots, err := doc.Query(odm.PathRoot)
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		return &odm.DocumentError{Reason: "document root is not <ODM>"}
	}
	if odm.RequiresPreliminaryCheck(roots[0]) {
		res.Mode = ModeFullPreload
		return s.fullPreload(ctx, doc, res)
	}
	res.Mode = ModeLightweight
	return s.lightweight(ctx, doc, res)
}

// resolveStudy resolves the study of a ClinicalData block against the
// listing and writes the effective OID back into StudyOID.
func (s *Service) resolveStudy(listing *study.Listing, node *etree.Element) (*study.Study, error) {
	ident, err := odm.Attr(node, attrStudyOID)
	if err != nil {
		return nil, err
	}
	st, err := s.dir.Resolve(listing, ident, !odm.ShouldTranslate(node))
	if err != nil {
		return nil, err
	}
	odm.SetAttr(node, attrStudyOID, st.EffectiveOID())
	markTranslated(node)
	return st, nil
}

func addStudyRef(res *Result, st *study.Study) {
	for _, r := range res.Studies {
		if r.Name == st.Name && r.SiteName == st.SiteName {
			return
		}
	}
	res.Studies = append(res.Studies, StudyRef{Name: st.Name, SiteName: st.SiteName, OID: st.EffectiveOID()})
}

// lightweight resolves each subject by presence check only. Studies get
// their event definitions but no subjects up front, remote calls are
// interleaved with traversal, and annotations are left in place.
func (s *Service) lightweight(ctx context.Context, doc *odm.Document, res *Result) error {
	listing, err := s.svc.ListAllStudies(ctx)
	if err != nil {
		return err
	}
	blocks, err := doc.Query(odm.PathClinicalData)
	if err != nil {
		return err
	}
	s.logger.Info().Int("clinical_data", len(blocks)).Msg("processing clinical data")

	for _, cd := range blocks {
		st, err := s.resolveStudy(listing, cd)
		if err != nil {
			return err
		}
		if cached, ok := s.dir.Lookup(st.Key()); ok {
			st = cached
		} else {
			defs, err := s.svc.FetchEventDefinitions(ctx, st)
			if err != nil {
				return err
			}
			st.Events = defs
			st = s.dir.Register(st)
		}
		addStudyRef(res, st)

		subjects, err := odm.Query(cd, odm.PathSubjectData)
		if err != nil {
			return err
		}
		for _, sd := range subjects {
			sub, err := s.reconcileSubject(ctx, st, sd, false, res)
			if err != nil {
				return err
			}
			if err := s.reconcileEvents(ctx, st, sub, sd, true, res); err != nil {
				return err
			}
		}
	}
	return nil
}

// reconcileEvents reconciles every event of a SubjectData node. With
// remoteCheck set, events missing locally are looked up remotely before
// being scheduled; lightweight studies carry no scheduled state.
func (s *Service) reconcileEvents(ctx context.Context, st *study.Study, sub *study.StudySubject, sd *etree.Element, remoteCheck bool, res *Result) error {
	events, err := odm.Query(sd, odm.PathStudyEventData)
	if err != nil {
		return err
	}
	for _, ed := range events {
		if err := s.reconcileEvent(ctx, st, sub, ed, remoteCheck, res); err != nil {
			return err
		}
	}
	return nil
}

// Import submits the resolved document to the remote data import.
func (s *Service) Import(ctx context.Context, doc *odm.Document) error {
	data, err := doc.Bytes()
	if err != nil {
		return err
	}
	s.logger.Info().Int("bytes", len(data)).Msg("importing resolved document")
	return s.svc.ImportODM(ctx, data)
}

// ListStudies returns the studies and sites visible to the remote
// credentials.
func (s *Service) ListStudies(ctx context.Context) (*study.Listing, error) {
	return s.svc.ListAllStudies(ctx)
}

// Runs returns the run journal, or nil when none is configured.
func (s *Service) Runs() RunRepository {
	return s.runs
}
