package app

import (
	"context"
	"testing"

	"sitework/api/internal/store"
)

func TestCreateChangeRequiresTitle(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, id string) (store.Project, error) {
			return store.Project{ID: id, ClientID: "usr_client", Status: "active"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateChange(context.Background(), pmSession(), "prj_1", ChangeInput{Body: "no title"})
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestCreateChangeClampsDeltas(t *testing.T) {
	var inserted store.ChangeRequest
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, id string) (store.Project, error) {
			return store.Project{ID: id, ClientID: "usr_client", Status: "active"}, nil
		},
		insertChangeRequestFn: func(_ context.Context, item store.ChangeRequest) error {
			inserted = item
			return nil
		},
		getChangeRequestFn: func(context.Context, string) (store.ChangeRequest, error) {
			return inserted, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateChange(context.Background(), pmSession(), "prj_1", ChangeInput{
		Title:             "Extra retaining wall",
		CostDelta:         "99999999.99",
		ScheduleDeltaDays: 4000,
	})
	if err != nil {
		t.Fatalf("CreateChange() error = %v", err)
	}
	if inserted.CostDeltaCents != maxCostDeltaCents {
		t.Fatalf("CostDeltaCents = %d, want clamp at %d", inserted.CostDeltaCents, maxCostDeltaCents)
	}
	if inserted.ScheduleDeltaDays != maxScheduleDeltaDays {
		t.Fatalf("ScheduleDeltaDays = %d, want clamp at %d", inserted.ScheduleDeltaDays, maxScheduleDeltaDays)
	}
}

func TestCreateChangeClampsNegativeDeltas(t *testing.T) {
	var inserted store.ChangeRequest
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, id string) (store.Project, error) {
			return store.Project{ID: id, Status: "active"}, nil
		},
		insertChangeRequestFn: func(_ context.Context, item store.ChangeRequest) error {
			inserted = item
			return nil
		},
		getChangeRequestFn: func(context.Context, string) (store.ChangeRequest, error) {
			return inserted, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateChange(context.Background(), pmSession(), "prj_1", ChangeInput{
		Title:             "Drop the pergola",
		CostDelta:         "-99999999.99",
		ScheduleDeltaDays: -4000,
	})
	if err != nil {
		t.Fatalf("CreateChange() error = %v", err)
	}
	if inserted.CostDeltaCents != -maxCostDeltaCents || inserted.ScheduleDeltaDays != -maxScheduleDeltaDays {
		t.Fatalf("deltas = (%d, %d), want clamped negatives", inserted.CostDeltaCents, inserted.ScheduleDeltaDays)
	}
}

func TestUpdateChangeLockedAfterSubmit(t *testing.T) {
	fs := &fakeStore{
		getChangeRequestFn: func(_ context.Context, id string) (store.ChangeRequest, error) {
			return store.ChangeRequest{ID: id, ProjectID: "prj_1", Status: "submitted"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateChange(context.Background(), pmSession(), "chg_1", ChangeInput{Title: "Edit attempt"})
	wantDomainError(t, err, 423, "LOCKED")
}

func TestDeleteChangeOnlyWhileDraft(t *testing.T) {
	fs := &fakeStore{
		getChangeRequestFn: func(_ context.Context, id string) (store.ChangeRequest, error) {
			return store.ChangeRequest{ID: id, ProjectID: "prj_1", Status: "approved"}, nil
		},
	}
	svc := newTestService(fs)

	err := svc.DeleteChange(context.Background(), pmSession(), "chg_1")
	wantDomainError(t, err, 423, "LOCKED")
}

func TestSubmitChangeSecondSubmitConflicts(t *testing.T) {
	fs := &fakeStore{
		submitChangeRequestFn: func(context.Context, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SubmitChange(context.Background(), pmSession(), "chg_1")
	wantDomainError(t, err, 409, "CONFLICT")
}

func TestMarkChangeImplementedRequiresApproved(t *testing.T) {
	fs := &fakeStore{
		markChangeRequestImplementedFn: func(context.Context, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.MarkChangeImplemented(context.Background(), pmSession(), "chg_1")
	wantDomainError(t, err, 409, "CONFLICT")
}

func TestChangePayloadFormatsCostDelta(t *testing.T) {
	fs := &fakeStore{
		getChangeRequestFn: func(_ context.Context, id string) (store.ChangeRequest, error) {
			return store.ChangeRequest{ID: id, ProjectID: "prj_1", Title: "Wall", Status: "draft", CostDeltaCents: -250050}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.GetChange(context.Background(), pmSession(), "chg_1")
	if err != nil {
		t.Fatalf("GetChange() error = %v", err)
	}
	change := payload["changeRequest"].(map[string]any)
	if change["costDelta"] != "-2500.50" {
		t.Fatalf("costDelta = %v, want -2500.50", change["costDelta"])
	}
}
