package app

import (
	"context"
	"database/sql"
	"testing"

	"sitework/api/internal/store"
)

func TestUpdateLeadStatusRejectsInvalidTransition(t *testing.T) {
	fs := &fakeStore{
		getLeadFn: func(_ context.Context, id string) (store.Lead, error) {
			return store.Lead{ID: id, Status: "new"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateLeadStatus(context.Background(), pmSession(), "lead_1", "converted")
	wantDomainError(t, err, 409, "CONFLICT")
}

func TestUpdateLeadStatusGuardsConcurrentMove(t *testing.T) {
	fs := &fakeStore{
		getLeadFn: func(_ context.Context, id string) (store.Lead, error) {
			return store.Lead{ID: id, Status: "new"}, nil
		},
		updateLeadStatusFn: func(_ context.Context, _, fromStatus, toStatus string) (bool, error) {
			if fromStatus != "new" || toStatus != "checklist_submitted" {
				t.Fatalf("guarded update %q -> %q", fromStatus, toStatus)
			}
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateLeadStatus(context.Background(), pmSession(), "lead_1", "checklist_submitted")
	wantDomainError(t, err, 409, "CONFLICT")
}

func TestListLeadsScopesClientsToOwnRecords(t *testing.T) {
	var gotFilter string
	fs := &fakeStore{
		listLeadsFn: func(_ context.Context, clientID string) ([]store.Lead, error) {
			gotFilter = clientID
			return nil, nil
		},
	}
	svc := newTestService(fs)

	client := Session{UserID: "usr_client", Role: "client"}
	if _, err := svc.ListLeads(context.Background(), client); err != nil {
		t.Fatalf("ListLeads() error = %v", err)
	}
	if gotFilter != "usr_client" {
		t.Fatalf("client filter = %q, want usr_client", gotFilter)
	}

	if _, err := svc.ListLeads(context.Background(), pmSession()); err != nil {
		t.Fatalf("ListLeads() error = %v", err)
	}
	if gotFilter != "" {
		t.Fatalf("staff filter = %q, want unscoped", gotFilter)
	}
}

func TestListLeadsHidesLeadBookFromProjectScopedRoles(t *testing.T) {
	fs := &fakeStore{
		listLeadsFn: func(context.Context, string) ([]store.Lead, error) {
			t.Fatal("the lead book must not be loaded for membership-scoped roles")
			return nil, nil
		},
	}
	svc := newTestService(fs)

	for _, role := range []string{"worker", "office"} {
		session := Session{UserID: "usr_" + role, Role: role}
		payload, err := svc.ListLeads(context.Background(), session)
		if err != nil {
			t.Fatalf("ListLeads(%s) error = %v", role, err)
		}
		if leads := payload["leads"].([]map[string]any); len(leads) != 0 {
			t.Fatalf("ListLeads(%s) = %v, want an empty listing", role, leads)
		}
	}
}

func TestListProjectsScopesWorkersToMembership(t *testing.T) {
	var gotClient, gotMember string
	fs := &fakeStore{
		listProjectsFn: func(_ context.Context, clientID, memberID string) ([]store.Project, error) {
			gotClient = clientID
			gotMember = memberID
			return nil, nil
		},
	}
	svc := newTestService(fs)

	worker := Session{UserID: "usr_worker", Role: "worker"}
	if _, err := svc.ListProjects(context.Background(), worker); err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if gotClient != "" || gotMember != "usr_worker" {
		t.Fatalf("filters = (%q, %q), want membership scope", gotClient, gotMember)
	}
}

func TestCreateLeadRejectsUnknownClient(t *testing.T) {
	svc := newTestService(&fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{}, sql.ErrNoRows
		},
	})

	_, err := svc.CreateLead(context.Background(), pmSession(), "usr_ghost", "Fence repair", "12 Hill Rd")
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestAssignProjectPMRejectsNonManagerAssignee(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, id string) (store.Project, error) {
			return store.Project{ID: id, Status: "active"}, nil
		},
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Role: "worker"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AssignProjectPM(context.Background(), pmSession(), "prj_1", "usr_worker")
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestAssignProjectPMForbiddenForOffice(t *testing.T) {
	svc := newTestService(&fakeStore{})

	office := Session{UserID: "usr_office", Role: "office"}
	_, err := svc.AssignProjectPM(context.Background(), office, "prj_1", "usr_pm")
	wantDomainError(t, err, 403, "FORBIDDEN")
}

func TestUpdateProjectStatusRejectsInvalidTransition(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, id string) (store.Project, error) {
			return store.Project{ID: id, Status: "active"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateProjectStatus(context.Background(), pmSession(), "prj_1", "done")
	wantDomainError(t, err, 409, "CONFLICT")
}

func TestUploadAttachmentUnavailableWithoutStorage(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.UploadAttachment(context.Background(), pmSession(), "prj_1", "", "site.jpg", "image/jpeg", 1024, nil)
	wantDomainError(t, err, 503, "STORAGE_UNAVAILABLE")
}

func TestAuditTrailRestrictedToManagers(t *testing.T) {
	svc := newTestService(&fakeStore{})

	worker := Session{UserID: "usr_worker", Role: "worker"}
	_, err := svc.AuditTrail(context.Background(), worker, "lead", "lead_1", 10)
	wantDomainError(t, err, 403, "FORBIDDEN")

	entries, err := svc.AuditTrail(context.Background(), pmSession(), "lead", "lead_1", 10)
	if err != nil {
		t.Fatalf("AuditTrail() error = %v", err)
	}
	if entries == nil {
		t.Fatal("expected an empty slice when no recorder is wired")
	}
}

func TestSearchScopesClientsToOwnRecords(t *testing.T) {
	svc := newTestService(&fakeStore{})

	client := Session{UserID: "usr_client", Role: "client"}
	response, err := svc.Search(context.Background(), client, "driveway", "", 10, 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if response.Results == nil {
		t.Fatal("expected an empty result set when search is not wired")
	}
}
