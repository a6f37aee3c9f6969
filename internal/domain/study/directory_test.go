package study_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ehr/ocbridge/internal/domain/study"
	"github.com/ehr/ocbridge/internal/domain/study/studytest"
)

func newFake() *studytest.Fake {
	f := studytest.New().
		AddStudy("STUDY1", "S_STUDY1", study.EventDefinition{OID: "SE_A", Name: "Baseline"}).
		AddSite("STUDY1", "AMS", "S_AMS")
	f.AddSubject(study.Key{StudyName: "STUDY1"}, "S-001", "SE_A")
	return f
}

func TestDirectory_GetOrPopulate_Caches(t *testing.T) {
	f := newFake()
	dir := study.NewDirectory(f)
	ctx := context.Background()

	first, err := dir.GetOrPopulate(ctx, &study.Study{Name: "STUDY1", OID: "S_STUDY1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := dir.GetOrPopulate(ctx, &study.Study{Name: "STUDY1", OID: "S_STUDY1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Error("expected cached instance on second call")
	}
	if f.Calls["PopulateStudy"] != 1 {
		t.Errorf("expected 1 population, got %d", f.Calls["PopulateStudy"])
	}
	if len(first.Subjects) != 1 || !first.Subjects[0].HasEvent("SE_A") {
		t.Errorf("expected populated subjects with events, got %+v", first.Subjects)
	}
	if first.Subjects[0].Events[0].EventName != "Baseline" {
		t.Errorf("expected event name resolved, got %q", first.Subjects[0].Events[0].EventName)
	}
}

func TestDirectory_SiteIsSeparateEntry(t *testing.T) {
	f := newFake()
	dir := study.NewDirectory(f)
	ctx := context.Background()

	if _, err := dir.GetOrPopulate(ctx, &study.Study{Name: "STUDY1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := dir.GetOrPopulate(ctx, &study.Study{Name: "STUDY1", SiteName: "AMS", SiteOID: "S_AMS"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", dir.Len())
	}
	got := dir.Studies()
	if got[0].SiteName != "" || got[1].SiteName != "AMS" {
		t.Errorf("expected studies ordered by key, got %q, %q", got[0].SiteName, got[1].SiteName)
	}
}

func TestDirectory_PopulateFailureEvicts(t *testing.T) {
	f := newFake()
	f.Errs["PopulateStudy"] = &study.RemoteError{Operation: "listAllByStudy"}
	dir := study.NewDirectory(f)

	_, err := dir.GetOrPopulate(context.Background(), &study.Study{Name: "STUDY1"})
	var re *study.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RemoteError, got %v", err)
	}
	if dir.Len() != 0 {
		t.Errorf("expected failed study to be evicted, have %d", dir.Len())
	}
}

func TestDirectory_RegisterAndClear(t *testing.T) {
	dir := study.NewDirectory(newFake())
	a := dir.Register(&study.Study{Name: "STUDY1"})
	b := dir.Register(&study.Study{Name: "STUDY1"})
	if a != b {
		t.Error("expected Register to return cached instance")
	}
	if _, ok := dir.Lookup(study.Key{StudyName: "STUDY1"}); !ok {
		t.Error("expected lookup to find registered study")
	}

	dir.Clear()
	if dir.Len() != 0 {
		t.Errorf("expected empty directory after Clear, got %d", dir.Len())
	}
}

func TestDirectory_Resolve(t *testing.T) {
	f := newFake()
	dir := study.NewDirectory(f)
	listing, _ := f.ListAllStudies(context.Background())

	st, err := dir.Resolve(listing, "AMS", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Key() != (study.Key{StudyName: "STUDY1", SiteName: "AMS"}) {
		t.Errorf("unexpected key %v", st.Key())
	}

	if _, err := dir.Resolve(listing, "NOPE", false); !errors.Is(err, study.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
