package app

import (
	"context"
	"testing"
	"time"

	"sitework/api/internal/store"
)

func TestParseScheduleTimeAcceptsCommonLayouts(t *testing.T) {
	want := time.Date(2026, 9, 7, 8, 30, 0, 0, time.UTC)
	inputs := []string{
		"2026-09-07 08:30:00",
		"2026-09-07 08:30",
		"2026-09-07T08:30:00",
		"2026-09-07T08:30",
		"2026-09-07T08:30:00Z",
		"  2026-09-07 08:30  ",
	}
	for _, input := range inputs {
		parsed, ok := parseScheduleTime(input)
		if !ok {
			t.Fatalf("parseScheduleTime(%q) rejected", input)
		}
		if !parsed.Equal(want) {
			t.Fatalf("parseScheduleTime(%q) = %v, want %v", input, parsed, want)
		}
	}

	for _, input := range []string{"", "next tuesday", "2026-09-07", "07/09/2026 08:30"} {
		if _, ok := parseScheduleTime(input); ok {
			t.Fatalf("parseScheduleTime(%q) accepted", input)
		}
	}
}

func TestParseWindowRejectsInvertedRange(t *testing.T) {
	if _, _, err := parseWindow("2026-09-07 08:00", "2026-09-07 08:00"); err == nil {
		t.Fatal("expected zero-length window to be rejected")
	}
	if _, _, err := parseWindow("2026-09-11 17:00", "2026-09-07 08:00"); err == nil {
		t.Fatal("expected inverted window to be rejected")
	}
	start, end, err := parseWindow("2026-09-07 08:00", "2026-09-11 17:00")
	if err != nil {
		t.Fatalf("parseWindow() error = %v", err)
	}
	if !end.After(start) {
		t.Fatalf("window = %v..%v", start, end)
	}
}

func TestProposeScheduleRejectsTerminalProject(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, id string) (store.Project, error) {
			return store.Project{ID: id, Status: "cancelled"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ProposeSchedule(context.Background(), pmSession(), "prj_1", "2026-09-07 08:00", "2026-09-11 17:00", "")
	wantDomainError(t, err, 409, "CONFLICT")
}

func TestProposeScheduleInsertsSubmittedProposal(t *testing.T) {
	var inserted store.ScheduleProposal
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, id string) (store.Project, error) {
			return store.Project{ID: id, Status: "active"}, nil
		},
		insertScheduleProposalFn: func(_ context.Context, item store.ScheduleProposal) error {
			inserted = item
			return nil
		},
		getScheduleProposalFn: func(context.Context, string) (store.ScheduleProposal, error) {
			return inserted, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ProposeSchedule(context.Background(), pmSession(), "prj_1", "2026-09-07 08:00", "2026-09-11 17:00", "first window")
	if err != nil {
		t.Fatalf("ProposeSchedule() error = %v", err)
	}
	if inserted.Status != "submitted" || inserted.ProjectID != "prj_1" || inserted.Note != "first window" {
		t.Fatalf("inserted proposal = %+v", inserted)
	}
	proposal := payload["proposal"].(map[string]any)
	if proposal["id"] != inserted.ID {
		t.Fatalf("payload proposal id = %v", proposal["id"])
	}
}

func TestScheduleConflictsFlagsOverlapsPerPM(t *testing.T) {
	day := func(d, h int) time.Time {
		return time.Date(2026, 9, d, h, 0, 0, 0, time.UTC)
	}
	fs := &fakeStore{
		listApprovedWindowsFn: func(context.Context) ([]store.EventWindow, error) {
			return []store.EventWindow{
				{EventID: "evt_a", ProjectID: "prj_1", PMID: "usr_pm7", StartsAt: day(7, 8), EndsAt: day(10, 17)},
				{EventID: "evt_b", ProjectID: "prj_2", PMID: "usr_pm7", StartsAt: day(9, 8), EndsAt: day(12, 17)},
				{EventID: "evt_c", ProjectID: "prj_3", PMID: "usr_pm9", StartsAt: day(9, 8), EndsAt: day(12, 17)},
			}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ScheduleConflicts(context.Background(), pmSession())
	if err != nil {
		t.Fatalf("ScheduleConflicts() error = %v", err)
	}
	conflicts := payload["conflicts"].([]map[string]any)
	if len(conflicts) != 2 {
		t.Fatalf("conflicts = %d, want the two overlapping events of the same PM", len(conflicts))
	}
	for _, conflict := range conflicts {
		if conflict["pmId"] != "usr_pm7" {
			t.Fatalf("flagged event for %v, want usr_pm7 only", conflict["pmId"])
		}
	}
}

func TestScheduleConflictsIgnoresBackToBackWindows(t *testing.T) {
	day := func(d, h int) time.Time {
		return time.Date(2026, 9, d, h, 0, 0, 0, time.UTC)
	}
	fs := &fakeStore{
		listApprovedWindowsFn: func(context.Context) ([]store.EventWindow, error) {
			return []store.EventWindow{
				{EventID: "evt_a", ProjectID: "prj_1", PMID: "usr_pm7", StartsAt: day(7, 8), EndsAt: day(9, 8)},
				{EventID: "evt_b", ProjectID: "prj_2", PMID: "usr_pm7", StartsAt: day(9, 8), EndsAt: day(12, 17)},
			}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ScheduleConflicts(context.Background(), pmSession())
	if err != nil {
		t.Fatalf("ScheduleConflicts() error = %v", err)
	}
	if conflicts := payload["conflicts"].([]map[string]any); len(conflicts) != 0 {
		t.Fatalf("conflicts = %v, want none for half-open adjacent windows", conflicts)
	}
}

func TestScheduleConflictsRestrictedToManagers(t *testing.T) {
	fs := &fakeStore{
		listApprovedWindowsFn: func(context.Context) ([]store.EventWindow, error) {
			t.Fatal("the tenant-wide window scan must not run for non-managers")
			return nil, nil
		},
	}
	svc := newTestService(fs)

	for _, role := range []string{"client", "worker", "office"} {
		session := Session{UserID: "usr_" + role, Role: role}
		_, err := svc.ScheduleConflicts(context.Background(), session)
		wantDomainError(t, err, 403, "FORBIDDEN")
	}
}

func TestListEventsDecoratesConflictFlag(t *testing.T) {
	day := func(d int) time.Time {
		return time.Date(2026, 9, d, 8, 0, 0, 0, time.UTC)
	}
	fs := &fakeStore{
		listScheduleEventsFn: func(context.Context, string) ([]store.ScheduleEvent, error) {
			return []store.ScheduleEvent{
				{ID: "evt_a", ProjectID: "prj_1", Status: "approved", StartsAt: day(7), EndsAt: day(10)},
				{ID: "evt_x", ProjectID: "prj_1", Status: "approved", StartsAt: day(20), EndsAt: day(22)},
			}, nil
		},
		listApprovedWindowsFn: func(context.Context) ([]store.EventWindow, error) {
			return []store.EventWindow{
				{EventID: "evt_a", ProjectID: "prj_1", PMID: "usr_pm7", StartsAt: day(7), EndsAt: day(10)},
				{EventID: "evt_b", ProjectID: "prj_2", PMID: "usr_pm7", StartsAt: day(9), EndsAt: day(12)},
			}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ListEvents(context.Background(), pmSession(), "prj_1")
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	events := payload["events"].([]map[string]any)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0]["conflict"] != true {
		t.Fatal("expected the overlapping event to carry the conflict flag")
	}
	if events[1]["conflict"] != false {
		t.Fatal("expected the isolated event to stay unflagged")
	}
}

func TestCancelEventAlreadyCancelledConflicts(t *testing.T) {
	fs := &fakeStore{
		cancelScheduleEventFn: func(context.Context, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	err := svc.CancelEvent(context.Background(), pmSession(), "evt_1")
	wantDomainError(t, err, 409, "CONFLICT")
}

func TestUpdateEventCancelledConflicts(t *testing.T) {
	fs := &fakeStore{
		getScheduleEventFn: func(_ context.Context, id string) (store.ScheduleEvent, error) {
			return store.ScheduleEvent{ID: id, ProjectID: "prj_1", Status: "cancelled"}, nil
		},
		updateScheduleEventFn: func(context.Context, store.ScheduleEvent) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateEvent(context.Background(), pmSession(), "evt_1", "Pour slab", "2026-09-07 08:00", "2026-09-08 17:00")
	wantDomainError(t, err, 409, "CONFLICT")
}
