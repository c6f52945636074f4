package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"sitework/api/internal/authpw"
	"sitework/api/internal/config"
	"sitework/api/internal/export"
	"sitework/api/internal/rbac"
	"sitework/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn          func(context.Context, string) (store.User, error)
	getUserByEmailFn       func(context.Context, string) (store.User, error)
	createUserFn           func(context.Context, store.User) error
	saveRefreshSessionFn   func(context.Context, string, string, time.Time) error
	lookupRefreshSessionFn func(context.Context, string) (store.User, error)
	revokeRefreshSessionFn func(context.Context, string) error
	revokeAccessTokenFn    func(context.Context, string, time.Time) error
	isAccessTokenRevokedFn func(context.Context, string) (bool, error)

	resourceOwnershipFn func(context.Context, rbac.ResourceKind, string) (*rbac.Ownership, error)
	isProjectMemberFn   func(context.Context, string, string) (bool, error)

	getLeadFn          func(context.Context, string) (store.Lead, error)
	listLeadsFn        func(context.Context, string) ([]store.Lead, error)
	insertLeadFn       func(context.Context, store.Lead) error
	updateLeadStatusFn func(context.Context, string, string, string) (bool, error)

	getProjectFn          func(context.Context, string) (store.Project, error)
	listProjectsFn        func(context.Context, string, string) ([]store.Project, error)
	updateProjectStatusFn func(context.Context, string, string, string) (bool, error)

	getEstimateFn              func(context.Context, string) (store.Estimate, error)
	getActiveEstimateForLeadFn func(context.Context, string) (*store.Estimate, error)
	insertEstimateFn           func(context.Context, store.Estimate) error
	listEstimateItemsFn        func(context.Context, string) ([]store.EstimateItem, error)
	getEstimateItemFn          func(context.Context, string) (store.EstimateItem, error)
	nextItemPositionFn         func(context.Context, string) (int, error)
	insertEstimateItemFn       func(context.Context, store.EstimateItem) error
	updateEstimateItemFn       func(context.Context, store.EstimateItem) error
	updateEstimateItemStatusFn func(context.Context, string, string) error
	deleteEstimateItemFn       func(context.Context, string) error
	countEstimateItemsFn       func(context.Context, string) (int, error)
	submitEstimateFn           func(context.Context, string, *string) (bool, error)
	decideEstimateFn           func(context.Context, string, string, string, string, *string, string) (bool, error)
	convertEstimateFn          func(context.Context, store.Project, store.Estimate, []store.EstimateItem, string) error

	getScheduleProposalFn     func(context.Context, string) (store.ScheduleProposal, error)
	insertScheduleProposalFn  func(context.Context, store.ScheduleProposal) error
	approveScheduleProposalFn func(context.Context, string, string, string, store.ScheduleEvent) (bool, error)
	rejectScheduleProposalFn  func(context.Context, string, string, string) (bool, error)
	getScheduleEventFn        func(context.Context, string) (store.ScheduleEvent, error)
	listScheduleEventsFn      func(context.Context, string) ([]store.ScheduleEvent, error)
	insertScheduleEventFn     func(context.Context, store.ScheduleEvent) error
	updateScheduleEventFn     func(context.Context, store.ScheduleEvent) (bool, error)
	cancelScheduleEventFn     func(context.Context, string) (bool, error)
	listApprovedWindowsFn     func(context.Context) ([]store.EventWindow, error)

	getChangeRequestFn             func(context.Context, string) (store.ChangeRequest, error)
	insertChangeRequestFn          func(context.Context, store.ChangeRequest) error
	updateChangeRequestDraftFn     func(context.Context, store.ChangeRequest) (bool, error)
	deleteChangeRequestDraftFn     func(context.Context, string) (bool, error)
	submitChangeRequestFn          func(context.Context, string) (bool, error)
	decideChangeRequestFn          func(context.Context, string, string, string, string) (bool, error)
	cancelChangeRequestFn          func(context.Context, string) (bool, error)
	markChangeRequestImplementedFn func(context.Context, string) (bool, error)
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if f.saveRefreshSessionFn != nil {
		return f.saveRefreshSessionFn(ctx, tokenHash, userID, expiresAt)
	}
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupRefreshSessionFn != nil {
		return f.lookupRefreshSessionFn(ctx, tokenHash)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeRefreshSessionFn != nil {
		return f.revokeRefreshSessionFn(ctx, tokenHash)
	}
	return nil
}
func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	if f.revokeAccessTokenFn != nil {
		return f.revokeAccessTokenFn(ctx, jti, exp)
	}
	return nil
}
func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}

func (f *fakeStore) ResourceOwnership(ctx context.Context, kind rbac.ResourceKind, id string) (*rbac.Ownership, error) {
	if f.resourceOwnershipFn != nil {
		return f.resourceOwnershipFn(ctx, kind, id)
	}
	return nil, nil
}
func (f *fakeStore) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	if f.isProjectMemberFn != nil {
		return f.isProjectMemberFn(ctx, projectID, userID)
	}
	return false, nil
}
func (f *fakeStore) AddProjectMember(context.Context, string, string) error { return nil }

func (f *fakeStore) GetLead(ctx context.Context, leadID string) (store.Lead, error) {
	if f.getLeadFn != nil {
		return f.getLeadFn(ctx, leadID)
	}
	return store.Lead{}, sql.ErrNoRows
}
func (f *fakeStore) ListLeads(ctx context.Context, clientID string) ([]store.Lead, error) {
	if f.listLeadsFn != nil {
		return f.listLeadsFn(ctx, clientID)
	}
	return nil, nil
}
func (f *fakeStore) InsertLead(ctx context.Context, item store.Lead) error {
	if f.insertLeadFn != nil {
		return f.insertLeadFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) UpdateLeadStatus(ctx context.Context, leadID, fromStatus, toStatus string) (bool, error) {
	if f.updateLeadStatusFn != nil {
		return f.updateLeadStatusFn(ctx, leadID, fromStatus, toStatus)
	}
	return true, nil
}

func (f *fakeStore) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, projectID)
	}
	return store.Project{}, sql.ErrNoRows
}
func (f *fakeStore) ListProjects(ctx context.Context, clientID, memberID string) ([]store.Project, error) {
	if f.listProjectsFn != nil {
		return f.listProjectsFn(ctx, clientID, memberID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateProjectStatus(ctx context.Context, projectID, fromStatus, toStatus string) (bool, error) {
	if f.updateProjectStatusFn != nil {
		return f.updateProjectStatusFn(ctx, projectID, fromStatus, toStatus)
	}
	return true, nil
}
func (f *fakeStore) AssignProjectPM(context.Context, string, string) error { return nil }

func (f *fakeStore) GetEstimate(ctx context.Context, estimateID string) (store.Estimate, error) {
	if f.getEstimateFn != nil {
		return f.getEstimateFn(ctx, estimateID)
	}
	return store.Estimate{}, sql.ErrNoRows
}
func (f *fakeStore) GetActiveEstimateForLead(ctx context.Context, leadID string) (*store.Estimate, error) {
	if f.getActiveEstimateForLeadFn != nil {
		return f.getActiveEstimateForLeadFn(ctx, leadID)
	}
	return nil, nil
}
func (f *fakeStore) GetActiveEstimateForProject(context.Context, string) (*store.Estimate, error) {
	return nil, nil
}
func (f *fakeStore) InsertEstimate(ctx context.Context, item store.Estimate) error {
	if f.insertEstimateFn != nil {
		return f.insertEstimateFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) ListEstimateItems(ctx context.Context, estimateID string) ([]store.EstimateItem, error) {
	if f.listEstimateItemsFn != nil {
		return f.listEstimateItemsFn(ctx, estimateID)
	}
	return nil, nil
}
func (f *fakeStore) GetEstimateItem(ctx context.Context, itemID string) (store.EstimateItem, error) {
	if f.getEstimateItemFn != nil {
		return f.getEstimateItemFn(ctx, itemID)
	}
	return store.EstimateItem{}, sql.ErrNoRows
}
func (f *fakeStore) NextItemPosition(ctx context.Context, estimateID string) (int, error) {
	if f.nextItemPositionFn != nil {
		return f.nextItemPositionFn(ctx, estimateID)
	}
	return 10, nil
}
func (f *fakeStore) InsertEstimateItem(ctx context.Context, item store.EstimateItem) error {
	if f.insertEstimateItemFn != nil {
		return f.insertEstimateItemFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) UpdateEstimateItem(ctx context.Context, item store.EstimateItem) error {
	if f.updateEstimateItemFn != nil {
		return f.updateEstimateItemFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) UpdateEstimateItemStatus(ctx context.Context, itemID, itemStatus string) error {
	if f.updateEstimateItemStatusFn != nil {
		return f.updateEstimateItemStatusFn(ctx, itemID, itemStatus)
	}
	return nil
}
func (f *fakeStore) DeleteEstimateItem(ctx context.Context, itemID string) error {
	if f.deleteEstimateItemFn != nil {
		return f.deleteEstimateItemFn(ctx, itemID)
	}
	return nil
}
func (f *fakeStore) CountEstimateItems(ctx context.Context, estimateID string) (int, error) {
	if f.countEstimateItemsFn != nil {
		return f.countEstimateItemsFn(ctx, estimateID)
	}
	return 0, nil
}
func (f *fakeStore) SubmitEstimate(ctx context.Context, estimateID string, leadID *string) (bool, error) {
	if f.submitEstimateFn != nil {
		return f.submitEstimateFn(ctx, estimateID, leadID)
	}
	return true, nil
}
func (f *fakeStore) DecideEstimate(ctx context.Context, estimateID, verdictStatus, decidedBy, note string, leadID *string, leadStatus string) (bool, error) {
	if f.decideEstimateFn != nil {
		return f.decideEstimateFn(ctx, estimateID, verdictStatus, decidedBy, note, leadID, leadStatus)
	}
	return true, nil
}
func (f *fakeStore) ConvertEstimate(ctx context.Context, project store.Project, copied store.Estimate, items []store.EstimateItem, leadID string) error {
	if f.convertEstimateFn != nil {
		return f.convertEstimateFn(ctx, project, copied, items, leadID)
	}
	return nil
}

func (f *fakeStore) GetScheduleProposal(ctx context.Context, proposalID string) (store.ScheduleProposal, error) {
	if f.getScheduleProposalFn != nil {
		return f.getScheduleProposalFn(ctx, proposalID)
	}
	return store.ScheduleProposal{}, sql.ErrNoRows
}
func (f *fakeStore) ListScheduleProposals(context.Context, string) ([]store.ScheduleProposal, error) {
	return nil, nil
}
func (f *fakeStore) InsertScheduleProposal(ctx context.Context, item store.ScheduleProposal) error {
	if f.insertScheduleProposalFn != nil {
		return f.insertScheduleProposalFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) ApproveScheduleProposal(ctx context.Context, proposalID, decidedBy, note string, event store.ScheduleEvent) (bool, error) {
	if f.approveScheduleProposalFn != nil {
		return f.approveScheduleProposalFn(ctx, proposalID, decidedBy, note, event)
	}
	return true, nil
}
func (f *fakeStore) RejectScheduleProposal(ctx context.Context, proposalID, decidedBy, note string) (bool, error) {
	if f.rejectScheduleProposalFn != nil {
		return f.rejectScheduleProposalFn(ctx, proposalID, decidedBy, note)
	}
	return true, nil
}
func (f *fakeStore) GetScheduleEvent(ctx context.Context, eventID string) (store.ScheduleEvent, error) {
	if f.getScheduleEventFn != nil {
		return f.getScheduleEventFn(ctx, eventID)
	}
	return store.ScheduleEvent{}, sql.ErrNoRows
}
func (f *fakeStore) ListScheduleEvents(ctx context.Context, projectID string) ([]store.ScheduleEvent, error) {
	if f.listScheduleEventsFn != nil {
		return f.listScheduleEventsFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) InsertScheduleEvent(ctx context.Context, item store.ScheduleEvent) error {
	if f.insertScheduleEventFn != nil {
		return f.insertScheduleEventFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) UpdateScheduleEvent(ctx context.Context, item store.ScheduleEvent) (bool, error) {
	if f.updateScheduleEventFn != nil {
		return f.updateScheduleEventFn(ctx, item)
	}
	return true, nil
}
func (f *fakeStore) CancelScheduleEvent(ctx context.Context, eventID string) (bool, error) {
	if f.cancelScheduleEventFn != nil {
		return f.cancelScheduleEventFn(ctx, eventID)
	}
	return true, nil
}
func (f *fakeStore) ListApprovedEventWindows(ctx context.Context) ([]store.EventWindow, error) {
	if f.listApprovedWindowsFn != nil {
		return f.listApprovedWindowsFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) GetChangeRequest(ctx context.Context, changeID string) (store.ChangeRequest, error) {
	if f.getChangeRequestFn != nil {
		return f.getChangeRequestFn(ctx, changeID)
	}
	return store.ChangeRequest{}, sql.ErrNoRows
}
func (f *fakeStore) ListChangeRequests(context.Context, string) ([]store.ChangeRequest, error) {
	return nil, nil
}
func (f *fakeStore) InsertChangeRequest(ctx context.Context, item store.ChangeRequest) error {
	if f.insertChangeRequestFn != nil {
		return f.insertChangeRequestFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) UpdateChangeRequestDraft(ctx context.Context, item store.ChangeRequest) (bool, error) {
	if f.updateChangeRequestDraftFn != nil {
		return f.updateChangeRequestDraftFn(ctx, item)
	}
	return true, nil
}
func (f *fakeStore) DeleteChangeRequestDraft(ctx context.Context, changeID string) (bool, error) {
	if f.deleteChangeRequestDraftFn != nil {
		return f.deleteChangeRequestDraftFn(ctx, changeID)
	}
	return true, nil
}
func (f *fakeStore) SubmitChangeRequest(ctx context.Context, changeID string) (bool, error) {
	if f.submitChangeRequestFn != nil {
		return f.submitChangeRequestFn(ctx, changeID)
	}
	return true, nil
}
func (f *fakeStore) DecideChangeRequest(ctx context.Context, changeID, verdictStatus, decidedBy, note string) (bool, error) {
	if f.decideChangeRequestFn != nil {
		return f.decideChangeRequestFn(ctx, changeID, verdictStatus, decidedBy, note)
	}
	return true, nil
}
func (f *fakeStore) CancelChangeRequest(ctx context.Context, changeID string) (bool, error) {
	if f.cancelChangeRequestFn != nil {
		return f.cancelChangeRequestFn(ctx, changeID)
	}
	return true, nil
}
func (f *fakeStore) MarkChangeRequestImplemented(ctx context.Context, changeID string) (bool, error) {
	if f.markChangeRequestImplementedFn != nil {
		return f.markChangeRequestImplementedFn(ctx, changeID)
	}
	return true, nil
}

func (f *fakeStore) GetAttachment(context.Context, string) (store.Attachment, error) {
	return store.Attachment{}, sql.ErrNoRows
}
func (f *fakeStore) InsertAttachment(context.Context, store.Attachment) error { return nil }
func (f *fakeStore) ListProjectAttachments(context.Context, string) ([]store.Attachment, error) {
	return nil, nil
}
func (f *fakeStore) ListEstimateAttachments(context.Context, string) ([]store.Attachment, error) {
	return nil, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

func newTestService(fs *fakeStore) *Service {
	svc := &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: time.Hour,
		},
		store:    fs,
		sessions: pgRefreshSessions{store: fs},
		resolver: rbac.NewResolver(fs),
		authPW:   authpw.NewService(fs),
	}
	svc.export = export.NewService(&estimateExportSource{store: fs})
	return svc
}

func pmSession() Session {
	return Session{UserID: "usr_pm", UserName: "Priya", Role: "pm"}
}

func wantDomainError(t *testing.T, err error, status int, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("expected %d %s, got %d %s", status, code, domainErr.Status, domainErr.Code)
	}
	return domainErr
}

func TestCreateSessionRoundTrip(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Priya", Role: "pm"}, nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.CreateSession(context.Background(), "usr_pm")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if parsed.UserID != "usr_pm" || parsed.Role != "pm" {
		t.Fatalf("parsed session = %q/%q", parsed.UserID, parsed.Role)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	saved := map[string]bool{}
	revoked := map[string]bool{}
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Priya", Role: "pm"}, nil
		},
		saveRefreshSessionFn: func(_ context.Context, tokenHash, _ string, _ time.Time) error {
			saved[tokenHash] = true
			return nil
		},
		lookupRefreshSessionFn: func(_ context.Context, tokenHash string) (store.User, error) {
			if !saved[tokenHash] || revoked[tokenHash] {
				return store.User{}, sql.ErrNoRows
			}
			return store.User{ID: "usr_pm", DisplayName: "Priya", Role: "pm"}, nil
		},
		revokeRefreshSessionFn: func(_ context.Context, tokenHash string) error {
			revoked[tokenHash] = true
			return nil
		},
	}
	svc := newTestService(fs)

	first, err := svc.CreateSession(context.Background(), "usr_pm")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("expected refresh to rotate the refresh token")
	}
	if _, err := svc.Refresh(context.Background(), first.RefreshToken); err == nil {
		t.Fatal("expected replayed refresh token to be rejected")
	}
}

func TestSessionFromTokenRejectsRevokedJTI(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Role: "pm"}, nil
		},
		isAccessTokenRevokedFn: func(context.Context, string) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.CreateSession(context.Background(), "usr_pm")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), session.Token); err == nil {
		t.Fatal("expected revoked token to be rejected")
	}
}

func TestLogoutRevokesAccessAndRefresh(t *testing.T) {
	accessRevoked := false
	refreshRevoked := false
	fs := &fakeStore{
		revokeAccessTokenFn: func(context.Context, string, time.Time) error {
			accessRevoked = true
			return nil
		},
		revokeRefreshSessionFn: func(context.Context, string) error {
			refreshRevoked = true
			return nil
		},
	}
	svc := newTestService(fs)

	session := Session{UserID: "usr_pm", JTI: "jti_1", ExpiresAt: time.Now().Add(time.Minute)}
	if err := svc.Logout(context.Background(), session, "rft_1"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if !accessRevoked || !refreshRevoked {
		t.Fatalf("revoked access=%v refresh=%v, want both", accessRevoked, refreshRevoked)
	}
}

func TestAuthorizeHidesResourceFromNonMember(t *testing.T) {
	fs := &fakeStore{
		resourceOwnershipFn: func(context.Context, rbac.ResourceKind, string) (*rbac.Ownership, error) {
			return &rbac.Ownership{ClientID: "usr_other", ProjectID: "prj_1"}, nil
		},
		isProjectMemberFn: func(context.Context, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	worker := Session{UserID: "usr_worker", Role: "worker"}
	_, err := svc.GetLeadDetail(context.Background(), worker, "lead_1")
	wantDomainError(t, err, 404, "NOT_FOUND")
}

func TestAuthorizeForbidsRoleWithoutAction(t *testing.T) {
	svc := newTestService(&fakeStore{})

	client := Session{UserID: "usr_client", Role: "client"}
	_, err := svc.CreateLead(context.Background(), client, "usr_client", "Fence repair", "12 Hill Rd")
	wantDomainError(t, err, 403, "FORBIDDEN")
}
