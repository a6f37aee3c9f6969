package resolution

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/google/go-cmp/cmp"

	"github.com/ehr/ocbridge/internal/domain/study"
	"github.com/ehr/ocbridge/internal/domain/study/studytest"
	"github.com/ehr/ocbridge/internal/odm"
)

// ── Fixtures ──

const odmHeader = `<?xml version="1.0" encoding="UTF-8"?>
<ODM xmlns="http://www.cdisc.org/ns/odm/v1.3"
     xmlns:OpenClinica="http://www.openclinica.org/ns/odm_ext_v130/v3.1"
     xmlns:Mirth="http://www.mirthcorp.com/ns/odm"`

func fullDoc(body string) string {
	return odmHeader + ` Mirth:PreliminaryConsistencyCheck="true">` + body + `</ODM>`
}

func lightDoc(body string) string {
	return odmHeader + `>` + body + `</ODM>`
}

// e2eBody is one clinical-data block for STUDY1 (identified by OID), one
// new subject S-001 and one new event EVT-A.
const e2eBody = `
  <ClinicalData StudyOID="STUDY1" Mirth:TranslateOID="false">
    <SubjectData SubjectKey="S-001" Mirth:TranslateOID="true" Mirth:Create="true"
                 OpenClinica:Sex="f" OpenClinica:DateOfBirth="1970-01-01"
                 OpenClinica:DateOfRegistration="2012-02-01" OpenClinica:UniqueIdentifier="&lt;VALUE&gt;">
      <StudyEventData StudyEventOID="EVT-A" OpenClinica:StartDate="2012-03-01" Mirth:Create="true"/>
    </SubjectData>
  </ClinicalData>`

var studyKey = study.Key{StudyName: "STUDY1-ID"}

func newRemote() *studytest.Fake {
	return studytest.New().
		AddStudy("STUDY1-ID", "STUDY1",
			study.EventDefinition{OID: "EVT-A", Name: "Baseline"},
			study.EventDefinition{OID: "EVT-B", Name: "Follow-up"}).
		AddSite("STUDY1-ID", "STUDY1-AMS", "STUDY1_AMS")
}

func parse(t *testing.T, xml string) *odm.Document {
	t.Helper()
	doc, err := odm.Parse([]byte(xml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func firstAttr(t *testing.T, doc *odm.Document, path, name string) string {
	t.Helper()
	nodes, err := doc.Query(path)
	if err != nil || len(nodes) == 0 {
		t.Fatalf("no node at %s (err=%v)", path, err)
	}
	return odm.AttrDefault(nodes[0], name, "")
}

const subjectPath = "/ODM/ClinicalData/SubjectData"

// ── End-to-end ──

func TestResolve_EndToEnd(t *testing.T) {
	remote := newRemote()
	svc := NewService(remote)
	body := strings.Replace(e2eBody, `StudyEventOID="EVT-A"`, `StudyEventOID="EVT-A" StudyEventRepeatKey="&lt;VALUE&gt;"`, 1)
	doc := parse(t, fullDoc(body))

	res, err := svc.Resolve(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Mode != ModeFullPreload {
		t.Errorf("expected full preload mode, got %s", res.Mode)
	}
	if diff := cmp.Diff([]string{"S-001"}, remote.Created); diff != "" {
		t.Errorf("created subjects mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"S-001/EVT-A"}, remote.Scheduled); diff != "" {
		t.Errorf("scheduled events mismatch (-want +got):\n%s", diff)
	}

	wantOID := studytest.SubjectOID("S-001")
	if got := firstAttr(t, doc, subjectPath, "SubjectKey"); got != wantOID {
		t.Errorf("expected SubjectKey %q, got %q", wantOID, got)
	}
	if got := firstAttr(t, doc, "/ODM/ClinicalData", "StudyOID"); got != "STUDY1" {
		t.Errorf("expected StudyOID to stay STUDY1, got %q", got)
	}

	st, ok := svc.Directory().Lookup(studyKey)
	if !ok {
		t.Fatal("expected study in directory")
	}
	sub := st.SubjectByLabel("S-001")
	if sub == nil {
		t.Fatal("expected subject in in-memory study")
	}
	if sub.OID != wantOID {
		t.Errorf("expected subject OID %q, got %q", wantOID, sub.OID)
	}
	ev := sub.Event("EVT-A")
	if ev == nil {
		t.Fatal("expected scheduled event in in-memory study")
	}
	want := time.Date(2012, 3, 1, 0, 0, 0, 0, time.UTC)
	if ev.StartDate == nil || !ev.StartDate.Equal(want) {
		t.Errorf("expected start date %v, got %v", want, ev.StartDate)
	}
	if ev.EventName != "Baseline" {
		t.Errorf("expected event name from definition, got %q", ev.EventName)
	}

	remoteSub := remote.RemoteSubject(studyKey, "S-001")
	if remoteSub == nil || remoteSub.Sex != "f" || remoteSub.DateOfRegistration != "2012-02-01" {
		t.Errorf("unexpected remote subject: %+v", remoteSub)
	}
	if remoteSub.PersonID != "" {
		t.Errorf("expected sentinel person ID to be ignored, got %q", remoteSub.PersonID)
	}

	out := strings.ReplaceAll(doc.String(), "xmlns:Mirth", "")
	if strings.Contains(out, "Mirth:") {
		t.Errorf("expected vendor annotations to be removed:\n%s", out)
	}
	if strings.Contains(out, "UniqueIdentifier") {
		t.Errorf("expected sentinel attributes to be removed:\n%s", out)
	}
	if strings.Contains(out, "StudyEventRepeatKey") || strings.Contains(out, "&lt;VALUE&gt;") {
		t.Errorf("expected sentinels removed from every attribute:\n%s", out)
	}
	if res.Cleaned == 0 {
		t.Error("expected cleanup to report removed attributes")
	}
}

func TestResolve_Idempotent(t *testing.T) {
	remote := newRemote()
	svc := NewService(remote)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, parse(t, fullDoc(e2eBody))); err != nil {
		t.Fatalf("first run: %v", err)
	}
	svc.ClearCache()

	doc := parse(t, fullDoc(e2eBody))
	res, err := svc.Resolve(ctx, doc)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if remote.Calls["CreateSubject"] != 1 || remote.Calls["ScheduleEvent"] != 1 {
		t.Errorf("expected no additional mutations, calls=%v", remote.Calls)
	}
	if len(res.Created) != 0 || len(res.Scheduled) != 0 {
		t.Errorf("expected empty second result, got %+v", res)
	}
	if got := firstAttr(t, doc, subjectPath, "SubjectKey"); got != studytest.SubjectOID("S-001") {
		t.Errorf("expected SubjectKey rewritten again, got %q", got)
	}
}

func TestResolve_LightweightIdempotent(t *testing.T) {
	remote := newRemote()
	ctx := context.Background()

	first := parse(t, lightDoc(e2eBody))
	if _, err := NewService(remote).Resolve(ctx, first); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := NewService(remote).Resolve(ctx, parse(t, lightDoc(e2eBody)))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(res.Created) != 0 || len(res.Scheduled) != 0 {
		t.Errorf("expected nothing created or scheduled on repeat, got %+v", res)
	}

	rewritten := parse(t, first.String())
	if _, err := NewService(remote).Resolve(ctx, rewritten); err != nil {
		t.Fatalf("rewritten run: %v", err)
	}
	if diff := cmp.Diff([]string{"S-001"}, remote.Created); diff != "" {
		t.Errorf("created subjects mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"S-001/EVT-A"}, remote.Scheduled); diff != "" {
		t.Errorf("scheduled events mismatch (-want +got):\n%s", diff)
	}
	if got := firstAttr(t, rewritten, subjectPath, "SubjectKey"); got != studytest.SubjectOID("S-001") {
		t.Errorf("expected SubjectKey to stay the OID, got %q", got)
	}
}

func TestResolve_LightweightFindsRemoteEvent(t *testing.T) {
	remote := newRemote()
	remote.AddSubject(studyKey, "S-001", "EVT-A")
	svc := NewService(remote)

	res, err := svc.Resolve(context.Background(), parse(t, lightDoc(e2eBody)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remote.Calls["ScheduleEvent"] != 0 || len(res.Scheduled) != 0 {
		t.Errorf("expected remote event to be reused, scheduled %v", remote.Scheduled)
	}
	st, _ := svc.Directory().Lookup(studyKey)
	ev := st.SubjectByLabel("S-001").Event("EVT-A")
	if ev == nil || ev.EventName != "Baseline" {
		t.Errorf("expected remote event recorded locally, got %+v", ev)
	}
}

// ── Subject reconciliation ──

func TestResolve_CreatePolicyGate(t *testing.T) {
	body := strings.Replace(e2eBody, `Mirth:TranslateOID="true" Mirth:Create="true"`, `Mirth:TranslateOID="true"`, 1)

	for name, wrap := range map[string]func(string) string{"full": fullDoc, "lightweight": lightDoc} {
		t.Run(name, func(t *testing.T) {
			remote := newRemote()
			svc := NewService(remote)
			doc := parse(t, wrap(body))

			_, err := svc.Resolve(context.Background(), doc)
			var nf *study.SubjectNotFoundError
			if !errors.As(err, &nf) {
				t.Fatalf("expected *SubjectNotFoundError, got %v", err)
			}
			if nf.Label != "S-001" {
				t.Errorf("expected label S-001, got %q", nf.Label)
			}
			if len(remote.Created) != 0 {
				t.Errorf("expected no subject created, got %v", remote.Created)
			}
			if got := firstAttr(t, doc, subjectPath, "SubjectKey"); got != "S-001" {
				t.Errorf("expected SubjectKey untouched, got %q", got)
			}
		})
	}
}

func TestResolve_ReusesExistingSubject(t *testing.T) {
	remote := newRemote()
	remote.AddSubject(studyKey, "S-001", "EVT-A")
	svc := NewService(remote)

	body := strings.Replace(e2eBody, `StudyEventOID="EVT-A"`, `StudyEventOID="EVT-B"`, 1)
	body = strings.Replace(body, `</SubjectData>`, `<StudyEventData StudyEventOID="EVT-A"/></SubjectData>`, 1)
	doc := parse(t, fullDoc(body))

	if _, err := svc.Resolve(context.Background(), doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, _ := svc.Directory().Lookup(studyKey)
	if len(st.Subjects) != 1 {
		t.Fatalf("expected exactly one subject, got %d", len(st.Subjects))
	}
	sub := st.Subjects[0]
	if !sub.HasEvent("EVT-A") || !sub.HasEvent("EVT-B") {
		t.Errorf("expected preloaded and new event on the same instance, got %+v", sub.Events)
	}
	if len(remote.Created) != 0 {
		t.Errorf("expected no create for existing subject, got %v", remote.Created)
	}
	if diff := cmp.Diff([]string{"S-001/EVT-B"}, remote.Scheduled); diff != "" {
		t.Errorf("scheduled mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_DuplicateSubjectNodesCollapse(t *testing.T) {
	remote := newRemote()
	svc := NewService(remote)

	second := `<SubjectData SubjectKey="S-001" Mirth:TranslateOID="true">
      <StudyEventData StudyEventOID="EVT-A"/>
    </SubjectData>`
	body := strings.Replace(e2eBody, `</ClinicalData>`, second+`</ClinicalData>`, 1)
	doc := parse(t, fullDoc(body))

	if _, err := svc.Resolve(context.Background(), doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _ := svc.Directory().Lookup(studyKey)
	if len(st.Subjects) != 1 {
		t.Errorf("expected one subject for two nodes with the same label, got %d", len(st.Subjects))
	}
	if remote.Calls["CreateSubject"] != 1 || remote.Calls["ScheduleEvent"] != 1 {
		t.Errorf("expected one create and one schedule, calls=%v", remote.Calls)
	}
	nodes, _ := doc.Query(subjectPath)
	for _, n := range nodes {
		if odm.AttrDefault(n, "SubjectKey", "") != studytest.SubjectOID("S-001") {
			t.Errorf("expected every SubjectKey rewritten, got %q", odm.AttrDefault(n, "SubjectKey", ""))
		}
	}
}

func TestResolve_SubjectByOID(t *testing.T) {
	remote := newRemote()
	remote.AddSubject(studyKey, "S-002", "EVT-A")
	svc := NewService(remote)

	body := `<ClinicalData StudyOID="STUDY1">
    <SubjectData SubjectKey="` + studytest.SubjectOID("S-002") + `"/>
  </ClinicalData>`
	doc := parse(t, lightDoc(body))

	res, err := svc.Resolve(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []SubjectRef{{Study: "STUDY1-ID", Label: "S-002", OID: studytest.SubjectOID("S-002")}}
	if diff := cmp.Diff(want, res.Subjects); diff != "" {
		t.Errorf("subjects mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_SubjectByOIDMatchesPreloaded(t *testing.T) {
	remote := newRemote()
	remote.AddSubject(studyKey, "S-002", "EVT-A")
	svc := NewService(remote)

	body := `<ClinicalData StudyOID="STUDY1">
    <SubjectData SubjectKey="` + studytest.SubjectOID("S-002") + `">
      <StudyEventData StudyEventOID="EVT-A" Mirth:Create="true"/>
      <StudyEventData StudyEventOID="EVT-B" Mirth:Create="true"/>
    </SubjectData>
  </ClinicalData>`
	res, err := svc.Resolve(context.Background(), parse(t, fullDoc(body)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, _ := svc.Directory().Lookup(studyKey)
	if len(st.Subjects) != 1 {
		t.Fatalf("expected the preloaded subject to be reused, got %d subjects", len(st.Subjects))
	}
	sub := st.Subjects[0]
	if sub.Label != "S-002" || sub.OID != studytest.SubjectOID("S-002") {
		t.Errorf("expected label and OID on the preloaded subject, got %s", sub)
	}
	if diff := cmp.Diff([]string{"S-002/EVT-B"}, remote.Scheduled); diff != "" {
		t.Errorf("scheduled mismatch (-want +got):\n%s", diff)
	}
	if len(res.Created) != 0 {
		t.Errorf("expected no subject created, got %v", res.Created)
	}
}

func TestResolve_UnknownSubjectOID(t *testing.T) {
	for name, wrap := range map[string]func(string) string{"full": fullDoc, "lightweight": lightDoc} {
		t.Run(name, func(t *testing.T) {
			remote := newRemote()
			remote.AddSubject(studyKey, "S-002")
			body := `<ClinicalData StudyOID="STUDY1"><SubjectData SubjectKey="SS_NOPE"/></ClinicalData>`

			_, err := NewService(remote).Resolve(context.Background(), parse(t, wrap(body)))
			var nf *study.SubjectNotFoundError
			if !errors.As(err, &nf) {
				t.Fatalf("expected *SubjectNotFoundError, got %v", err)
			}
			if nf.Label != "SS_NOPE" {
				t.Errorf("expected the OID in the error, got %q", nf.Label)
			}
		})
	}
}

func TestResolve_MissingSubjectKey(t *testing.T) {
	svc := NewService(newRemote())
	body := `<ClinicalData StudyOID="STUDY1"><SubjectData/></ClinicalData>`
	_, err := svc.Resolve(context.Background(), parse(t, fullDoc(body)))
	var mae *odm.MissingAttributeError
	if !errors.As(err, &mae) {
		t.Fatalf("expected *MissingAttributeError, got %v", err)
	}
	if mae.Attribute != "SubjectKey" {
		t.Errorf("expected SubjectKey, got %q", mae.Attribute)
	}
}

// ── Event reconciliation ──

func TestResolve_EventDedup(t *testing.T) {
	remote := newRemote()
	svc := NewService(remote)
	body := strings.Replace(e2eBody, `</SubjectData>`,
		`<StudyEventData StudyEventOID="EVT-A" Mirth:Create="true"/></SubjectData>`, 1)

	if _, err := svc.Resolve(context.Background(), parse(t, fullDoc(body))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _ := svc.Directory().Lookup(studyKey)
	sub := st.SubjectByLabel("S-001")
	seen := map[string]int{}
	for _, ev := range sub.Events {
		seen[ev.EventOID]++
	}
	if seen["EVT-A"] != 1 {
		t.Errorf("expected EVT-A once, got %d", seen["EVT-A"])
	}
	if remote.Calls["ScheduleEvent"] != 1 {
		t.Errorf("expected a single schedule call, got %d", remote.Calls["ScheduleEvent"])
	}
}

func TestResolve_UnparsableStartDateIsSoft(t *testing.T) {
	for _, date := range []string{`OpenClinica:StartDate="next tuesday"`, `OpenClinica:StartDate="&lt;VALUE&gt;"`, ``} {
		t.Run(date, func(t *testing.T) {
			remote := newRemote()
			svc := NewService(remote)
			body := strings.Replace(e2eBody, `OpenClinica:StartDate="2012-03-01"`, date, 1)

			res, err := svc.Resolve(context.Background(), parse(t, fullDoc(body)))
			if err != nil {
				t.Fatalf("expected soft failure, got %v", err)
			}
			if len(res.Scheduled) != 1 {
				t.Fatalf("expected event scheduled, got %+v", res.Scheduled)
			}
			if res.Scheduled[0].StartDate != nil {
				t.Errorf("expected no start date, got %v", res.Scheduled[0].StartDate)
			}
		})
	}
}

func TestResolve_EventNotFoundWithoutCreate(t *testing.T) {
	remote := newRemote()
	svc := NewService(remote)
	body := strings.Replace(e2eBody, `OpenClinica:StartDate="2012-03-01" Mirth:Create="true"`, ``, 1)

	_, err := svc.Resolve(context.Background(), parse(t, fullDoc(body)))
	var enf *study.EventNotFoundError
	if !errors.As(err, &enf) {
		t.Fatalf("expected *EventNotFoundError, got %v", err)
	}
	if enf.EventOID != "EVT-A" {
		t.Errorf("expected EVT-A, got %q", enf.EventOID)
	}
	if len(remote.Created) != 0 {
		t.Errorf("full preload must reject the document before creating subjects, created %v", remote.Created)
	}
}

func TestResolve_EventNotFoundLightweightAfterCreate(t *testing.T) {
	remote := newRemote()
	svc := NewService(remote)
	body := strings.Replace(e2eBody, `OpenClinica:StartDate="2012-03-01" Mirth:Create="true"`, ``, 1)

	_, err := svc.Resolve(context.Background(), parse(t, lightDoc(body)))
	if !errors.Is(err, study.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if len(remote.Created) != 1 {
		t.Errorf("lightweight mode interleaves calls; expected subject created first, got %v", remote.Created)
	}
}

func TestResolve_UnknownEventDefinition(t *testing.T) {
	svc := NewService(newRemote())
	body := strings.Replace(e2eBody, `StudyEventOID="EVT-A"`, `StudyEventOID="EVT-Z"`, 1)
	_, err := svc.Resolve(context.Background(), parse(t, fullDoc(body)))
	var enf *study.EventNotFoundError
	if !errors.As(err, &enf) || enf.EventOID != "EVT-Z" {
		t.Fatalf("expected EventNotFoundError for EVT-Z, got %v", err)
	}
}

// ── Driver ──

func TestResolve_LightweightMode(t *testing.T) {
	remote := newRemote()
	svc := NewService(remote)
	doc := parse(t, lightDoc(e2eBody))

	res, err := svc.Resolve(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Mode != ModeLightweight {
		t.Errorf("expected lightweight mode, got %s", res.Mode)
	}
	if remote.Calls["PopulateStudy"] != 0 {
		t.Errorf("expected no full population, got %d", remote.Calls["PopulateStudy"])
	}
	if remote.Calls["FetchEventDefinitions"] != 1 {
		t.Errorf("expected event definitions fetched once, got %d", remote.Calls["FetchEventDefinitions"])
	}
	if res.Cleaned != 0 || !strings.Contains(doc.String(), `Mirth:Create="true"`) {
		t.Error("expected annotations to be kept in lightweight mode")
	}
	if got := firstAttr(t, doc, subjectPath, "SubjectKey"); got != studytest.SubjectOID("S-001") {
		t.Errorf("expected SubjectKey rewritten, got %q", got)
	}
}

func TestResolve_MultipleBlocksShareStudy(t *testing.T) {
	remote := newRemote()
	svc := NewService(remote)
	body := e2eBody + strings.Replace(e2eBody, "S-001", "S-002", 1)

	res, err := svc.Resolve(context.Background(), parse(t, fullDoc(body)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remote.Calls["PopulateStudy"] != 1 {
		t.Errorf("expected a single population, got %d", remote.Calls["PopulateStudy"])
	}
	if remote.Calls["ListAllStudies"] != 1 {
		t.Errorf("expected a single listing fetch, got %d", remote.Calls["ListAllStudies"])
	}
	if len(res.Studies) != 1 || len(res.Created) != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestResolve_SiteTranslatesStudyOID(t *testing.T) {
	remote := newRemote()
	remote.AddSubject(study.Key{StudyName: "STUDY1-ID", SiteName: "STUDY1-AMS"}, "S-009")
	svc := NewService(remote)
	body := `<ClinicalData StudyOID="STUDY1-AMS" Mirth:TranslateOID="true">
    <SubjectData SubjectKey="S-009" Mirth:TranslateOID="true"/>
  </ClinicalData>`
	doc := parse(t, lightDoc(body))

	if _, err := svc.Resolve(context.Background(), doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := firstAttr(t, doc, "/ODM/ClinicalData", "StudyOID"); got != "STUDY1_AMS" {
		t.Errorf("expected site OID, got %q", got)
	}
	if got := firstAttr(t, doc, "/ODM/ClinicalData", odm.AttrTranslateOID); got != "false" {
		t.Errorf("expected the translated StudyOID marked as an OID, got %q", got)
	}
}

func TestResolve_StudyNotFound(t *testing.T) {
	remote := newRemote()
	svc := NewService(remote)
	body := strings.Replace(e2eBody, `StudyOID="STUDY1"`, `StudyOID="NOPE"`, 1)

	_, err := svc.Resolve(context.Background(), parse(t, fullDoc(body)))
	var snf *study.StudyNotFoundError
	if !errors.As(err, &snf) {
		t.Fatalf("expected *StudyNotFoundError, got %v", err)
	}
	if len(remote.Created) != 0 {
		t.Error("expected no mutations")
	}
}

func TestResolve_RemoteErrorAbortsWithoutRollback(t *testing.T) {
	remote := newRemote()
	remote.Errs["ScheduleEvent"] = &study.RemoteError{Operation: "schedule", Messages: []string{"boom"}}
	svc := NewService(remote)
	doc := parse(t, fullDoc(e2eBody))

	_, err := svc.Resolve(context.Background(), doc)
	var re *study.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RemoteError, got %v", err)
	}
	if len(remote.Created) != 1 {
		t.Errorf("expected created subject to remain, got %v", remote.Created)
	}
	if !strings.Contains(doc.String(), "Mirth:Create") {
		t.Error("expected no cleanup after a failed run")
	}
}

func TestResolve_ListingFailure(t *testing.T) {
	remote := newRemote()
	remote.Errs["ListAllStudies"] = &study.RemoteError{Operation: "listAll"}
	svc := NewService(remote)
	if _, err := svc.Resolve(context.Background(), parse(t, lightDoc(e2eBody))); err == nil {
		t.Fatal("expected error")
	}
}

func TestResolve_NotODM(t *testing.T) {
	svc := NewService(newRemote())
	_, err := svc.Resolve(context.Background(), parse(t, `<Other/>`))
	if !errors.Is(err, odm.ErrDocument) {
		t.Fatalf("expected document error, got %v", err)
	}
}

func TestResolve_Hooks(t *testing.T) {
	var subjects, events []string
	svc := NewService(newRemote(),
		WithSubjectHook(SubjectHookFunc(func(_ context.Context, node *etree.Element, sub *study.StudySubject) error {
			subjects = append(subjects, sub.Label)
			return nil
		})),
		WithEventHook(EventHookFunc(func(_ context.Context, _ *etree.Element, sub *study.StudySubject, ev *study.ScheduledEvent) error {
			events = append(events, sub.Label+"/"+ev.EventOID)
			return nil
		})),
	)

	if _, err := svc.Resolve(context.Background(), parse(t, fullDoc(e2eBody))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"S-001"}, subjects); diff != "" {
		t.Errorf("subject hook mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"S-001/EVT-A"}, events); diff != "" {
		t.Errorf("event hook mismatch:\n%s", diff)
	}
}

func TestResolve_HookErrorAborts(t *testing.T) {
	remote := newRemote()
	svc := NewService(remote, WithSubjectHook(SubjectHookFunc(func(context.Context, *etree.Element, *study.StudySubject) error {
		return errors.New("rejected")
	})))
	if _, err := svc.Resolve(context.Background(), parse(t, fullDoc(e2eBody))); err == nil {
		t.Fatal("expected hook error")
	}
	if len(remote.Created) != 0 {
		t.Error("expected no create after hook failure")
	}
}

// ── Journal & metrics ──

type countingMetrics struct {
	runs      []string
	created   int
	scheduled int
}

func (m *countingMetrics) ObserveRun(mode, status string, _ time.Duration) {
	m.runs = append(m.runs, mode+":"+status)
}
func (m *countingMetrics) SubjectCreated() { m.created++ }
func (m *countingMetrics) EventScheduled() { m.scheduled++ }

func TestResolve_RecordsRunsAndMetrics(t *testing.T) {
	repo := NewInMemoryRunRepository()
	metrics := &countingMetrics{}
	svc := NewService(newRemote(), WithRunRepository(repo), WithMetrics(metrics))
	ctx := context.Background()

	if _, err := svc.ResolveWithMeta(ctx, parse(t, fullDoc(e2eBody)), RunMeta{Source: "cli"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := strings.Replace(e2eBody, `StudyOID="STUDY1"`, `StudyOID="NOPE"`, 1)
	if _, err := svc.Resolve(ctx, parse(t, fullDoc(bad))); err == nil {
		t.Fatal("expected failure")
	}

	runs, total, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 runs, got %d", total)
	}
	var ok, failed int
	for _, r := range runs {
		switch r.Status {
		case RunSucceeded:
			ok++
			if r.SubjectsCreated != 1 || r.EventsScheduled != 1 || r.Source != "cli" {
				t.Errorf("unexpected successful run: %+v", r)
			}
		case RunFailed:
			failed++
			if r.Error == nil || !strings.Contains(*r.Error, "NOPE") {
				t.Errorf("expected error message on failed run, got %+v", r.Error)
			}
		}
	}
	if ok != 1 || failed != 1 {
		t.Errorf("expected one success and one failure, got %d/%d", ok, failed)
	}

	if diff := cmp.Diff([]string{"full-preload:succeeded", "full-preload:failed"}, metrics.runs); diff != "" {
		t.Errorf("metrics mismatch:\n%s", diff)
	}
	if metrics.created != 1 || metrics.scheduled != 1 {
		t.Errorf("unexpected counters: %+v", metrics)
	}
}

func TestResolve_NotifiesListeners(t *testing.T) {
	var got []*Run
	listener := RunListenerFunc(func(_ context.Context, run *Run) { got = append(got, run) })
	svc := NewService(newRemote(), WithRunListener(listener))

	if _, err := svc.ResolveWithMeta(context.Background(), parse(t, fullDoc(e2eBody)), RunMeta{Source: "api", RequestID: "req-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one notification, got %d", len(got))
	}
	if got[0].Status != RunSucceeded || got[0].RequestID != "req-1" || got[0].SubjectsCreated != 1 {
		t.Errorf("unexpected run: %+v", got[0])
	}
}
