package app

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"sitework/api/internal/audit"
	"sitework/api/internal/rbac"
	"sitework/api/internal/search"
	"sitework/api/internal/storage"
	"sitework/api/internal/store"
	"sitework/api/internal/util"
	"sitework/api/internal/workflow"
)

// CreateLead records an inbound quote request on behalf of a client.
func (s *Service) CreateLead(ctx context.Context, session Session, clientID, title, siteAddress string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errValidation("title is required", map[string]any{"field": "title"})
	}
	if len(title) > maxItemTitleLen {
		return nil, errValidation("title too long", map[string]any{"field": "title", "max": maxItemTitleLen})
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, errValidation("clientId is required", map[string]any{"field": "clientId"})
	}
	client, err := s.store.GetUserByID(ctx, clientID)
	if err != nil {
		return nil, errValidation("unknown client", map[string]any{"field": "clientId"})
	}

	lead := store.Lead{
		ID:          util.NewID("lead"),
		ClientID:    client.ID,
		Title:       title,
		SiteAddress: strings.TrimSpace(siteAddress),
		Status:      string(workflow.LeadNew),
		CreatedBy:   session.UserID,
	}
	if err := s.store.InsertLead(ctx, lead); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexLead(search.LeadRecord{
			ID:          lead.ID,
			Title:       lead.Title,
			SiteAddress: lead.SiteAddress,
			ClientID:    lead.ClientID,
			Status:      lead.Status,
		})
	}
	s.record("lead.create", "lead", lead.ID, session.UserID, map[string]any{"clientId": lead.ClientID})

	created, err := s.store.GetLead(ctx, lead.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"lead": leadPayload(created)}, nil
}

// ListLeads scopes the listing to what the resolver admits per lead: clients
// see their own leads, admins and PMs see everything. Roles whose access
// rides on project membership see no leads at all, since a lead has no
// project yet.
func (s *Service) ListLeads(ctx context.Context, session Session) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	clientFilter := ""
	switch rbac.Normalize(session.Role) {
	case rbac.RoleAdmin, rbac.RolePM:
	case rbac.RoleClient:
		clientFilter = session.UserID
	default:
		return map[string]any{"leads": []map[string]any{}}, nil
	}
	leads, err := s.store.ListLeads(ctx, clientFilter)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(leads))
	for _, lead := range leads {
		payloads = append(payloads, leadPayload(lead))
	}
	return map[string]any{"leads": payloads}, nil
}

func (s *Service) GetLeadDetail(ctx context.Context, session Session, leadID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionRead, rbac.KindLead, leadID); err != nil {
		return nil, err
	}
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"lead": leadPayload(lead)}, nil
}

// UpdateLeadStatus moves a lead along its lifecycle, rejecting transitions
// outside the table. The store update is guarded on the status the caller
// observed so concurrent moves lose with CONFLICT.
func (s *Service) UpdateLeadStatus(ctx context.Context, session Session, leadID, toStatus string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindLead, leadID); err != nil {
		return nil, err
	}
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}

	next := workflow.LeadStatus(strings.TrimSpace(toStatus))
	if !workflow.LeadCanTransition(workflow.LeadStatus(lead.Status), next) {
		return nil, errConflict("Invalid lead status transition")
	}

	changed, err := s.store.UpdateLeadStatus(ctx, leadID, lead.Status, string(next))
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, errConflict("Lead status changed concurrently")
	}
	s.record("lead.status", "lead", leadID, session.UserID, map[string]any{"from": lead.Status, "to": string(next)})

	updated, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexLead(search.LeadRecord{
			ID:          updated.ID,
			Title:       updated.Title,
			SiteAddress: updated.SiteAddress,
			ClientID:    updated.ClientID,
			Status:      updated.Status,
		})
	}
	return map[string]any{"lead": leadPayload(updated)}, nil
}

// ListProjects scopes to the caller: clients see their own, workers and
// office staff see projects they are members of, admin and PM see all.
func (s *Service) ListProjects(ctx context.Context, session Session) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	clientFilter := ""
	memberFilter := ""
	switch rbac.Normalize(session.Role) {
	case rbac.RoleClient:
		clientFilter = session.UserID
	case rbac.RoleWorker, rbac.RoleOffice:
		memberFilter = session.UserID
	}
	projects, err := s.store.ListProjects(ctx, clientFilter, memberFilter)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		payloads = append(payloads, projectPayload(project))
	}
	return map[string]any{"projects": payloads}, nil
}

func (s *Service) GetProjectDetail(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionRead, rbac.KindProject, projectID); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"project": projectPayload(project)}, nil
}

func (s *Service) UpdateProjectStatus(ctx context.Context, session Session, projectID, toStatus string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindProject, projectID); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	next := workflow.ProjectStatus(strings.TrimSpace(toStatus))
	if !workflow.ProjectCanTransition(workflow.ProjectStatus(project.Status), next) {
		return nil, errConflict("Invalid project status transition")
	}

	changed, err := s.store.UpdateProjectStatus(ctx, projectID, project.Status, string(next))
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, errConflict("Project status changed concurrently")
	}
	s.record("project.status", "project", projectID, session.UserID, map[string]any{"from": project.Status, "to": string(next)})

	updated, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{
			ID:          updated.ID,
			Title:       updated.Title,
			SiteAddress: updated.SiteAddress,
			ClientID:    updated.ClientID,
			Status:      updated.Status,
		})
	}
	return map[string]any{"project": projectPayload(updated)}, nil
}

// AssignProjectPM hands the project to a PM; only admin and PM roles may
// reassign, and the assignee must hold a PM or admin role.
func (s *Service) AssignProjectPM(ctx context.Context, session Session, projectID, pmID string) (map[string]any, error) {
	role := rbac.Normalize(session.Role)
	if role != rbac.RoleAdmin && role != rbac.RolePM {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	pm, err := s.store.GetUserByID(ctx, pmID)
	if err != nil {
		return nil, errValidation("unknown user", map[string]any{"field": "pmId"})
	}
	pmRole := rbac.Normalize(pm.Role)
	if pmRole != rbac.RolePM && pmRole != rbac.RoleAdmin {
		return nil, errValidation("assignee is not a project manager", map[string]any{"field": "pmId"})
	}

	if err := s.store.AssignProjectPM(ctx, projectID, pm.ID); err != nil {
		return nil, err
	}
	s.record("project.assign_pm", "project", projectID, session.UserID, map[string]any{"pmId": pm.ID})

	updated, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"project": projectPayload(updated)}, nil
}

// AddProjectMember grants a worker or office user access to the project.
func (s *Service) AddProjectMember(ctx context.Context, session Session, projectID, userID string) error {
	role := rbac.Normalize(session.Role)
	if role != rbac.RoleAdmin && role != rbac.RolePM {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return err
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return errValidation("unknown user", map[string]any{"field": "userId"})
	}
	if err := s.store.AddProjectMember(ctx, projectID, userID); err != nil {
		return err
	}
	s.record("project.add_member", "project", projectID, session.UserID, map[string]any{"userId": userID})
	return nil
}

// Search runs a full-text query over leads, projects and change requests.
// Client results are always scoped to the caller's own records.
func (s *Service) Search(ctx context.Context, session Session, text, filterType string, limit, offset int) (search.Response, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return search.Response{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	query := search.Query{
		Text:       strings.TrimSpace(text),
		FilterType: search.ResultType(strings.TrimSpace(filterType)),
		Limit:      limit,
		Offset:     offset,
	}
	if rbac.Normalize(session.Role) == rbac.RoleClient {
		query.FilterClientID = session.UserID
	}
	return s.search.Search(query), nil
}

// AuditTrail exposes the audit log for one entity to admin and PM users.
func (s *Service) AuditTrail(ctx context.Context, session Session, entityType, entityID string, limit int) ([]audit.Entry, error) {
	role := rbac.Normalize(session.Role)
	if role != rbac.RoleAdmin && role != rbac.RolePM {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if s.audit == nil {
		return []audit.Entry{}, nil
	}
	return s.audit.ListForEntity(ctx, entityType, entityID, limit)
}

// UploadAttachment stores a file against a project or an estimate and records
// its metadata. Exactly one parent must be given.
func (s *Service) UploadAttachment(ctx context.Context, session Session, projectID, estimateID, filename, contentType string, size int64, r io.Reader) (map[string]any, error) {
	if s.storage == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not available", nil)
	}
	if (projectID == "") == (estimateID == "") {
		return nil, errValidation("exactly one of projectId or estimateId is required", nil)
	}

	var parentProject, parentEstimate *string
	if projectID != "" {
		if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindProject, projectID); err != nil {
			return nil, err
		}
		parentProject = &projectID
	} else {
		if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindEstimate, estimateID); err != nil {
			return nil, err
		}
		parentEstimate = &estimateID
	}

	attachmentID := util.NewID("att")
	objectKey := storage.ObjectKey(attachmentID, filename)
	written, err := s.storage.Upload(ctx, objectKey, r, size, contentType)
	if err != nil {
		return nil, err
	}

	attachment := store.Attachment{
		ID:          attachmentID,
		ProjectID:   parentProject,
		EstimateID:  parentEstimate,
		ObjectKey:   objectKey,
		Filename:    storage.SanitizeFilename(filename),
		ContentType: contentType,
		SizeBytes:   written,
		UploadedBy:  session.UserID,
	}
	if err := s.store.InsertAttachment(ctx, attachment); err != nil {
		return nil, err
	}
	s.record("attachment.upload", "attachment", attachmentID, session.UserID, map[string]any{"filename": attachment.Filename})

	return map[string]any{"attachment": attachmentPayload(attachment)}, nil
}

// AttachmentDownloadURL returns a short-lived presigned download link.
func (s *Service) AttachmentDownloadURL(ctx context.Context, session Session, attachmentID string) (map[string]any, error) {
	if s.storage == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "File storage is not available", nil)
	}
	if err := s.authorize(ctx, session, rbac.ActionRead, rbac.KindAttachment, attachmentID); err != nil {
		return nil, err
	}
	attachment, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return nil, err
	}
	url, err := s.storage.PresignedDownload(ctx, attachment.ObjectKey, attachment.Filename, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": url, "filename": attachment.Filename}, nil
}

func (s *Service) ListProjectAttachments(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionRead, rbac.KindProject, projectID); err != nil {
		return nil, err
	}
	attachments, err := s.store.ListProjectAttachments(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"attachments": attachmentPayloads(attachments)}, nil
}

func (s *Service) ListEstimateAttachments(ctx context.Context, session Session, estimateID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionRead, rbac.KindEstimate, estimateID); err != nil {
		return nil, err
	}
	attachments, err := s.store.ListEstimateAttachments(ctx, estimateID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"attachments": attachmentPayloads(attachments)}, nil
}

func leadPayload(lead store.Lead) map[string]any {
	return map[string]any{
		"id":          lead.ID,
		"clientId":    lead.ClientID,
		"title":       lead.Title,
		"siteAddress": lead.SiteAddress,
		"status":      lead.Status,
		"createdBy":   lead.CreatedBy,
		"createdAt":   lead.CreatedAt,
		"updatedAt":   lead.UpdatedAt,
	}
}

func projectPayload(project store.Project) map[string]any {
	payload := map[string]any{
		"id":           project.ID,
		"clientId":     project.ClientID,
		"title":        project.Title,
		"siteAddress":  project.SiteAddress,
		"assignedPmId": project.AssignedPMID,
		"status":       project.Status,
		"createdBy":    project.CreatedBy,
		"createdAt":    project.CreatedAt,
		"updatedAt":    project.UpdatedAt,
	}
	if project.LeadID != nil {
		payload["leadId"] = *project.LeadID
	}
	return payload
}

func attachmentPayload(attachment store.Attachment) map[string]any {
	payload := map[string]any{
		"id":          attachment.ID,
		"filename":    attachment.Filename,
		"contentType": attachment.ContentType,
		"sizeBytes":   attachment.SizeBytes,
		"uploadedBy":  attachment.UploadedBy,
		"createdAt":   attachment.CreatedAt,
	}
	if attachment.ProjectID != nil {
		payload["projectId"] = *attachment.ProjectID
	}
	if attachment.EstimateID != nil {
		payload["estimateId"] = *attachment.EstimateID
	}
	return payload
}

func attachmentPayloads(attachments []store.Attachment) []map[string]any {
	payloads := make([]map[string]any, 0, len(attachments))
	for _, attachment := range attachments {
		payloads = append(payloads, attachmentPayload(attachment))
	}
	return payloads
}
