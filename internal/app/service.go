package app

import (
	"context"
	"net/http"
	"time"

	"sitework/api/internal/audit"
	"sitework/api/internal/auth"
	"sitework/api/internal/authpw"
	"sitework/api/internal/config"
	"sitework/api/internal/email"
	"sitework/api/internal/export"
	"sitework/api/internal/rbac"
	"sitework/api/internal/search"
	"sitework/api/internal/session"
	"sitework/api/internal/storage"
	"sitework/api/internal/store"
	"sitework/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	ResourceOwnership(ctx context.Context, kind rbac.ResourceKind, id string) (*rbac.Ownership, error)
	IsProjectMember(ctx context.Context, projectID, userID string) (bool, error)
	AddProjectMember(ctx context.Context, projectID, userID string) error

	GetLead(ctx context.Context, leadID string) (store.Lead, error)
	ListLeads(ctx context.Context, clientID string) ([]store.Lead, error)
	InsertLead(ctx context.Context, item store.Lead) error
	UpdateLeadStatus(ctx context.Context, leadID, fromStatus, toStatus string) (bool, error)

	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListProjects(ctx context.Context, clientID, memberID string) ([]store.Project, error)
	UpdateProjectStatus(ctx context.Context, projectID, fromStatus, toStatus string) (bool, error)
	AssignProjectPM(ctx context.Context, projectID, pmID string) error

	GetEstimate(ctx context.Context, estimateID string) (store.Estimate, error)
	GetActiveEstimateForLead(ctx context.Context, leadID string) (*store.Estimate, error)
	GetActiveEstimateForProject(ctx context.Context, projectID string) (*store.Estimate, error)
	InsertEstimate(ctx context.Context, item store.Estimate) error
	ListEstimateItems(ctx context.Context, estimateID string) ([]store.EstimateItem, error)
	GetEstimateItem(ctx context.Context, itemID string) (store.EstimateItem, error)
	NextItemPosition(ctx context.Context, estimateID string) (int, error)
	InsertEstimateItem(ctx context.Context, item store.EstimateItem) error
	UpdateEstimateItem(ctx context.Context, item store.EstimateItem) error
	UpdateEstimateItemStatus(ctx context.Context, itemID, itemStatus string) error
	DeleteEstimateItem(ctx context.Context, itemID string) error
	CountEstimateItems(ctx context.Context, estimateID string) (int, error)
	SubmitEstimate(ctx context.Context, estimateID string, leadID *string) (bool, error)
	DecideEstimate(ctx context.Context, estimateID, verdictStatus, decidedBy, note string, leadID *string, leadStatus string) (bool, error)
	ConvertEstimate(ctx context.Context, project store.Project, copied store.Estimate, items []store.EstimateItem, leadID string) error

	GetScheduleProposal(ctx context.Context, proposalID string) (store.ScheduleProposal, error)
	ListScheduleProposals(ctx context.Context, projectID string) ([]store.ScheduleProposal, error)
	InsertScheduleProposal(ctx context.Context, item store.ScheduleProposal) error
	ApproveScheduleProposal(ctx context.Context, proposalID, decidedBy, note string, event store.ScheduleEvent) (bool, error)
	RejectScheduleProposal(ctx context.Context, proposalID, decidedBy, note string) (bool, error)
	GetScheduleEvent(ctx context.Context, eventID string) (store.ScheduleEvent, error)
	ListScheduleEvents(ctx context.Context, projectID string) ([]store.ScheduleEvent, error)
	InsertScheduleEvent(ctx context.Context, item store.ScheduleEvent) error
	UpdateScheduleEvent(ctx context.Context, item store.ScheduleEvent) (bool, error)
	CancelScheduleEvent(ctx context.Context, eventID string) (bool, error)
	ListApprovedEventWindows(ctx context.Context) ([]store.EventWindow, error)

	GetChangeRequest(ctx context.Context, changeID string) (store.ChangeRequest, error)
	ListChangeRequests(ctx context.Context, projectID string) ([]store.ChangeRequest, error)
	InsertChangeRequest(ctx context.Context, item store.ChangeRequest) error
	UpdateChangeRequestDraft(ctx context.Context, item store.ChangeRequest) (bool, error)
	DeleteChangeRequestDraft(ctx context.Context, changeID string) (bool, error)
	SubmitChangeRequest(ctx context.Context, changeID string) (bool, error)
	DecideChangeRequest(ctx context.Context, changeID, verdictStatus, decidedBy, note string) (bool, error)
	CancelChangeRequest(ctx context.Context, changeID string) (bool, error)
	MarkChangeRequestImplemented(ctx context.Context, changeID string) (bool, error)

	GetAttachment(ctx context.Context, attachmentID string) (store.Attachment, error)
	InsertAttachment(ctx context.Context, item store.Attachment) error
	ListProjectAttachments(ctx context.Context, projectID string) ([]store.Attachment, error)
	ListEstimateAttachments(ctx context.Context, estimateID string) ([]store.Attachment, error)

	Ping(ctx context.Context) error
}

// refreshSessions abstracts where refresh tokens live: Redis when configured,
// otherwise the refresh_sessions table.
type refreshSessions interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type pgRefreshSessions struct {
	store dataStore
}

func (p pgRefreshSessions) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return p.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (p pgRefreshSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return p.store.LookupRefreshSession(ctx, tokenHash)
}

func (p pgRefreshSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.store.RevokeRefreshSession(ctx, tokenHash)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshSessions
	resolver *rbac.Resolver
	search   *search.Service
	audit    *audit.Recorder
	email    *email.Service
	storage  *storage.Service
	export   *export.Service
	authPW   *authpw.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchService *search.Service, auditRecorder *audit.Recorder, emailService *email.Service, storageService *storage.Service) *Service {
	return newService(cfg, dataStore, pgRefreshSessions{store: dataStore}, searchService, auditRecorder, emailService, storageService)
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, searchService *search.Service, auditRecorder *audit.Recorder, emailService *email.Service, storageService *storage.Service) *Service {
	return newService(cfg, dataStore, sessions, searchService, auditRecorder, emailService, storageService)
}

func newService(cfg config.Config, ds dataStore, sessions refreshSessions, searchService *search.Service, auditRecorder *audit.Recorder, emailService *email.Service, storageService *storage.Service) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    ds,
		sessions: sessions,
		resolver: rbac.NewResolver(ds),
		search:   searchService,
		audit:    auditRecorder,
		email:    emailService,
		storage:  storageService,
		authPW:   authpw.NewService(ds),
	}
	svc.export = export.NewService(&estimateExportSource{store: ds})
	return svc
}

// Bootstrap rebuilds the search index from Postgres so Meilisearch catches up
// after a restart. Safe to call repeatedly.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authPW
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateSession issues access and refresh tokens for an authenticated user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) principal(session Session) rbac.Principal {
	return rbac.Principal{ID: session.UserID, Role: rbac.Normalize(session.Role)}
}

// authorize gates an operation: first the pure role check, then resource
// scoping. A resource the principal cannot see reports NOT_FOUND rather than
// FORBIDDEN so denials do not leak existence.
func (s *Service) authorize(ctx context.Context, session Session, action rbac.Action, kind rbac.ResourceKind, id string) error {
	if !s.Can(session.Role, action) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	allowed, err := s.resolver.CanAccess(ctx, s.principal(session), kind, id)
	if err != nil {
		return err
	}
	if !allowed {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	return nil
}

func (s *Service) record(action, entityType, entityID, actorID string, meta map[string]any) {
	if s.audit != nil {
		s.audit.Record(action, entityType, entityID, actorID, meta)
	}
}
