package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sitework/api/internal/rbac"
	"sitework/api/internal/store"
)

func strPtr(s string) *string { return &s }

func TestAddItemRejectsLockedEstimate(t *testing.T) {
	fs := &fakeStore{
		getEstimateFn: func(_ context.Context, id string) (store.Estimate, error) {
			return store.Estimate{ID: id, LeadID: strPtr("lead_1"), Status: "submitted"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AddItem(context.Background(), pmSession(), "est_1", ItemInput{Title: "Excavation"})
	wantDomainError(t, err, 423, "LOCKED")
}

func TestAddItemRejectsMalformedMoney(t *testing.T) {
	fs := &fakeStore{
		getEstimateFn: func(_ context.Context, id string) (store.Estimate, error) {
			return store.Estimate{ID: id, LeadID: strPtr("lead_1"), Status: "draft"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AddItem(context.Background(), pmSession(), "est_1", ItemInput{
		Title:    "Excavation",
		UnitCost: "twelve dollars",
	})
	domainErr := wantDomainError(t, err, 422, "VALIDATION_ERROR")
	details, ok := domainErr.Details.(map[string]any)
	if !ok || details["field"] != "unitCost" {
		t.Fatalf("expected details to name unitCost, got %v", domainErr.Details)
	}
}

func TestAddItemComputesLineTotal(t *testing.T) {
	var inserted store.EstimateItem
	fs := &fakeStore{
		getEstimateFn: func(_ context.Context, id string) (store.Estimate, error) {
			return store.Estimate{ID: id, LeadID: strPtr("lead_1"), Status: "draft"}, nil
		},
		insertEstimateItemFn: func(_ context.Context, item store.EstimateItem) error {
			inserted = item
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.AddItem(context.Background(), pmSession(), "est_1", ItemInput{
		Title:       "Paving",
		PricingMode: "sqm",
		Quantity:    "18.5",
		UnitCost:    "22.00",
	})
	if err != nil {
		t.Fatalf("AddItem() error = %v", err)
	}
	if inserted.Quantity != 18.5 || inserted.UnitCostCents != 2200 {
		t.Fatalf("inserted qty=%v unit=%v", inserted.Quantity, inserted.UnitCostCents)
	}
	item := payload["item"].(map[string]any)
	if item["lineTotalCents"] != int64(40700) {
		t.Fatalf("lineTotalCents = %v, want 40700", item["lineTotalCents"])
	}
	if item["lineTotal"] != "407.00" {
		t.Fatalf("lineTotal = %v, want 407.00", item["lineTotal"])
	}
}

func TestAddItemAcceptsBareJSONNumbers(t *testing.T) {
	var input ItemInput
	body := []byte(`{"title":"Paving","pricingMode":"sqm","quantity":18.5,"unitCost":22.00}`)
	if err := json.Unmarshal(body, &input); err != nil {
		t.Fatalf("unmarshal item input: %v", err)
	}

	var inserted store.EstimateItem
	fs := &fakeStore{
		getEstimateFn: func(_ context.Context, id string) (store.Estimate, error) {
			return store.Estimate{ID: id, LeadID: strPtr("lead_1"), Status: "draft"}, nil
		},
		insertEstimateItemFn: func(_ context.Context, item store.EstimateItem) error {
			inserted = item
			return nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.AddItem(context.Background(), pmSession(), "est_1", input); err != nil {
		t.Fatalf("AddItem() error = %v", err)
	}
	if inserted.Quantity != 18.5 || inserted.UnitCostCents != 2200 {
		t.Fatalf("inserted qty=%v unit=%v, want 18.5 and 2200", inserted.Quantity, inserted.UnitCostCents)
	}
}

func TestEstimateTotalSumsLineItems(t *testing.T) {
	fs := &fakeStore{
		getEstimateFn: func(_ context.Context, id string) (store.Estimate, error) {
			return store.Estimate{ID: id, LeadID: strPtr("lead_1"), Status: "draft"}, nil
		},
		listEstimateItemsFn: func(context.Context, string) ([]store.EstimateItem, error) {
			return []store.EstimateItem{
				{ID: "itm_1", PricingMode: "sqm", Quantity: 18.5, UnitCostCents: 2200},
				{ID: "itm_2", PricingMode: "hours", Quantity: 6, UnitCostCents: 9500},
				{ID: "itm_3", PricingMode: "fixed", FixedCostCents: 120000},
			}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.GetEstimateDetail(context.Background(), pmSession(), "est_1")
	if err != nil {
		t.Fatalf("GetEstimateDetail() error = %v", err)
	}
	estimate := payload["estimate"].(map[string]any)
	if estimate["totalCents"] != int64(217700) {
		t.Fatalf("totalCents = %v, want 217700", estimate["totalCents"])
	}
	if estimate["total"] != "2177.00" {
		t.Fatalf("total = %v, want 2177.00", estimate["total"])
	}
}

func TestUpdateItemLockedOnDecidedLeadEstimate(t *testing.T) {
	fs := &fakeStore{
		getEstimateItemFn: func(_ context.Context, id string) (store.EstimateItem, error) {
			return store.EstimateItem{ID: id, EstimateID: "est_1"}, nil
		},
		getEstimateFn: func(_ context.Context, id string) (store.Estimate, error) {
			return store.Estimate{ID: id, LeadID: strPtr("lead_1"), Status: "approved"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateItem(context.Background(), pmSession(), "itm_1", ItemInput{Title: "Paving"})
	wantDomainError(t, err, 423, "LOCKED")
}

func TestUpdateItemStatusOnlyOnLockedProjectEstimate(t *testing.T) {
	statusUpdates := 0
	fullUpdates := 0
	fs := &fakeStore{
		getEstimateItemFn: func(_ context.Context, id string) (store.EstimateItem, error) {
			return store.EstimateItem{ID: id, EstimateID: "est_1", Title: "Paving", ItemStatus: "todo"}, nil
		},
		getEstimateFn: func(_ context.Context, id string) (store.Estimate, error) {
			return store.Estimate{ID: id, ProjectID: strPtr("prj_1"), Status: "approved"}, nil
		},
		updateEstimateItemStatusFn: func(_ context.Context, _, itemStatus string) error {
			statusUpdates++
			if itemStatus != "done" {
				t.Fatalf("itemStatus = %q, want done", itemStatus)
			}
			return nil
		},
		updateEstimateItemFn: func(context.Context, store.EstimateItem) error {
			fullUpdates++
			return nil
		},
		resourceOwnershipFn: func(context.Context, rbac.ResourceKind, string) (*rbac.Ownership, error) {
			return &rbac.Ownership{ClientID: "usr_client", ProjectID: "prj_1"}, nil
		},
		isProjectMemberFn: func(context.Context, string, string) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(fs)

	worker := Session{UserID: "usr_worker", Role: "worker"}
	payload, err := svc.UpdateItem(context.Background(), worker, "itm_1", ItemInput{
		Title:      "Renamed by worker",
		ItemStatus: "done",
	})
	if err != nil {
		t.Fatalf("UpdateItem() error = %v", err)
	}
	if statusUpdates != 1 || fullUpdates != 0 {
		t.Fatalf("status updates=%d full updates=%d, want 1 and 0", statusUpdates, fullUpdates)
	}
	item := payload["item"].(map[string]any)
	if item["itemStatus"] != "done" {
		t.Fatalf("itemStatus = %v, want done", item["itemStatus"])
	}
	if item["title"] != "Paving" {
		t.Fatalf("title = %v, want the stored title unchanged", item["title"])
	}
}

func TestDeleteItemOnlyWhileDraft(t *testing.T) {
	fs := &fakeStore{
		getEstimateItemFn: func(_ context.Context, id string) (store.EstimateItem, error) {
			return store.EstimateItem{ID: id, EstimateID: "est_1"}, nil
		},
		getEstimateFn: func(_ context.Context, id string) (store.Estimate, error) {
			return store.Estimate{ID: id, ProjectID: strPtr("prj_1"), Status: "submitted"}, nil
		},
	}
	svc := newTestService(fs)

	err := svc.DeleteItem(context.Background(), pmSession(), "itm_1")
	wantDomainError(t, err, 423, "LOCKED")
}

func TestSubmitEstimateRequiresItems(t *testing.T) {
	fs := &fakeStore{
		getEstimateFn: func(_ context.Context, id string) (store.Estimate, error) {
			return store.Estimate{ID: id, LeadID: strPtr("lead_1"), Status: "draft"}, nil
		},
		countEstimateItemsFn: func(context.Context, string) (int, error) {
			return 0, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SubmitEstimate(context.Background(), pmSession(), "est_1")
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestSubmitEstimateLosesRaceWithConflict(t *testing.T) {
	fs := &fakeStore{
		getEstimateFn: func(_ context.Context, id string) (store.Estimate, error) {
			return store.Estimate{ID: id, LeadID: strPtr("lead_1"), Status: "draft"}, nil
		},
		countEstimateItemsFn: func(context.Context, string) (int, error) {
			return 2, nil
		},
		submitEstimateFn: func(context.Context, string, *string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SubmitEstimate(context.Background(), pmSession(), "est_1")
	wantDomainError(t, err, 409, "CONFLICT")
}

func TestConvertEstimateRequiresApproval(t *testing.T) {
	fs := &fakeStore{
		getEstimateFn: func(_ context.Context, id string) (store.Estimate, error) {
			return store.Estimate{ID: id, LeadID: strPtr("lead_1"), Status: "submitted"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ConvertEstimate(context.Background(), pmSession(), "est_1")
	wantDomainError(t, err, 409, "CONFLICT")
}

func TestConvertEstimateRejectsProjectScoped(t *testing.T) {
	fs := &fakeStore{
		getEstimateFn: func(_ context.Context, id string) (store.Estimate, error) {
			return store.Estimate{ID: id, ProjectID: strPtr("prj_1"), Status: "approved"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ConvertEstimate(context.Background(), pmSession(), "est_1")
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestConvertEstimateCopiesItemsAndDecision(t *testing.T) {
	decidedAt := time.Date(2026, 8, 12, 9, 0, 0, 0, time.UTC)
	var gotProject store.Project
	var gotCopied store.Estimate
	var gotItems []store.EstimateItem
	var gotLeadID string
	fs := &fakeStore{
		getEstimateFn: func(_ context.Context, id string) (store.Estimate, error) {
			return store.Estimate{
				ID:           id,
				LeadID:       strPtr("lead_1"),
				Title:        "Driveway rebuild",
				Status:       "approved",
				CreatedBy:    "usr_office",
				DecidedAt:    &decidedAt,
				DecidedBy:    "usr_client",
				DecisionNote: "Go ahead",
			}, nil
		},
		getLeadFn: func(_ context.Context, id string) (store.Lead, error) {
			return store.Lead{ID: id, ClientID: "usr_client", Title: "Driveway rebuild", SiteAddress: "12 Hill Rd", Status: "approved"}, nil
		},
		listEstimateItemsFn: func(context.Context, string) ([]store.EstimateItem, error) {
			return []store.EstimateItem{
				{ID: "itm_1", EstimateID: "est_1", Title: "Excavation", PricingMode: "hours", Quantity: 8, UnitCostCents: 9500},
			}, nil
		},
		convertEstimateFn: func(_ context.Context, project store.Project, copied store.Estimate, items []store.EstimateItem, leadID string) error {
			gotProject = project
			gotCopied = copied
			gotItems = items
			gotLeadID = leadID
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ConvertEstimate(context.Background(), pmSession(), "est_1")
	if err != nil {
		t.Fatalf("ConvertEstimate() error = %v", err)
	}
	if gotLeadID != "lead_1" {
		t.Fatalf("leadID = %q, want lead_1", gotLeadID)
	}
	if gotProject.ClientID != "usr_client" || gotProject.Status != "active" {
		t.Fatalf("project client=%q status=%q", gotProject.ClientID, gotProject.Status)
	}
	if gotProject.AssignedPMID != "usr_pm" {
		t.Fatalf("AssignedPMID = %q, want the deciding PM", gotProject.AssignedPMID)
	}
	if gotCopied.ProjectID == nil || *gotCopied.ProjectID != gotProject.ID {
		t.Fatal("copied estimate must point at the new project")
	}
	if gotCopied.DecidedAt == nil || !gotCopied.DecidedAt.Equal(decidedAt) || gotCopied.DecisionNote != "Go ahead" {
		t.Fatal("copied estimate must keep the decision metadata")
	}
	if len(gotItems) != 1 || gotItems[0].ID == "itm_1" || gotItems[0].EstimateID != gotCopied.ID {
		t.Fatalf("copied items must be re-identified, got %+v", gotItems)
	}
	if payload["projectId"] != gotProject.ID || payload["estimateId"] != gotCopied.ID {
		t.Fatalf("payload = %v", payload)
	}
}

func TestConvertEstimateStaleLeadIsConflict(t *testing.T) {
	fs := &fakeStore{
		getEstimateFn: func(_ context.Context, id string) (store.Estimate, error) {
			return store.Estimate{ID: id, LeadID: strPtr("lead_1"), Status: "approved"}, nil
		},
		getLeadFn: func(_ context.Context, id string) (store.Lead, error) {
			return store.Lead{ID: id, ClientID: "usr_client", Status: "converted"}, nil
		},
		convertEstimateFn: func(context.Context, store.Project, store.Estimate, []store.EstimateItem, string) error {
			return store.ErrStaleStatus
		},
	}
	svc := newTestService(fs)

	_, err := svc.ConvertEstimate(context.Background(), pmSession(), "est_1")
	wantDomainError(t, err, 409, "CONFLICT")
}

func TestEnsureEstimateReturnsExistingDraft(t *testing.T) {
	inserts := 0
	fs := &fakeStore{
		getLeadFn: func(_ context.Context, id string) (store.Lead, error) {
			return store.Lead{ID: id, ClientID: "usr_client", Title: "Fence", Status: "new"}, nil
		},
		getActiveEstimateForLeadFn: func(context.Context, string) (*store.Estimate, error) {
			return &store.Estimate{ID: "est_existing", LeadID: strPtr("lead_1"), Status: "draft"}, nil
		},
		insertEstimateFn: func(context.Context, store.Estimate) error {
			inserts++
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.EnsureEstimate(context.Background(), pmSession(), "lead", "lead_1")
	if err != nil {
		t.Fatalf("EnsureEstimate() error = %v", err)
	}
	if inserts != 0 {
		t.Fatalf("inserts = %d, want 0 when a draft already exists", inserts)
	}
	estimate := payload["estimate"].(map[string]any)
	if estimate["id"] != "est_existing" {
		t.Fatalf("estimate id = %v, want est_existing", estimate["id"])
	}
}

func TestEnsureEstimateDeniesLazyCreateToReadOnlyRole(t *testing.T) {
	fs := &fakeStore{
		resourceOwnershipFn: func(context.Context, rbac.ResourceKind, string) (*rbac.Ownership, error) {
			return &rbac.Ownership{ClientID: "usr_client"}, nil
		},
		getLeadFn: func(_ context.Context, id string) (store.Lead, error) {
			return store.Lead{ID: id, ClientID: "usr_client", Title: "Fence", Status: "new"}, nil
		},
	}
	svc := newTestService(fs)

	client := Session{UserID: "usr_client", Role: "client"}
	_, err := svc.EnsureEstimate(context.Background(), client, "lead", "lead_1")
	wantDomainError(t, err, 404, "NOT_FOUND")
}
