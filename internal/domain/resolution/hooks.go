package resolution

import (
	"context"

	"github.com/beevik/etree"

	"github.com/ehr/ocbridge/internal/domain/study"
)

// SubjectHook is invoked for every SubjectData node once its subject has
// been built or reused, before the presence check. Returning an error
// aborts the run.
type SubjectHook interface {
	HandleSubject(ctx context.Context, node *etree.Element, sub *study.StudySubject) error
}

// EventHook is invoked for every StudyEventData node after the event has
// been reconciled.
type EventHook interface {
	HandleEvent(ctx context.Context, node *etree.Element, sub *study.StudySubject, ev *study.ScheduledEvent) error
}

// SubjectHookFunc adapts a function to SubjectHook.
type SubjectHookFunc func(ctx context.Context, node *etree.Element, sub *study.StudySubject) error

func (f SubjectHookFunc) HandleSubject(ctx context.Context, node *etree.Element, sub *study.StudySubject) error {
	return f(ctx, node, sub)
}

// EventHookFunc adapts a function to EventHook.
type EventHookFunc func(ctx context.Context, node *etree.Element, sub *study.StudySubject, ev *study.ScheduledEvent) error

func (f EventHookFunc) HandleEvent(ctx context.Context, node *etree.Element, sub *study.StudySubject, ev *study.ScheduledEvent) error {
	return f(ctx, node, sub, ev)
}

// RunListener is told about every finished run, successful or not, after
// it has been journaled.
type RunListener interface {
	RunFinished(ctx context.Context, run *Run)
}

// RunListenerFunc adapts a function to RunListener.
type RunListenerFunc func(ctx context.Context, run *Run)

func (f RunListenerFunc) RunFinished(ctx context.Context, run *Run) { f(ctx, run) }
