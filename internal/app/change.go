package app

import (
	"context"
	"strings"

	"sitework/api/internal/money"
	"sitework/api/internal/rbac"
	"sitework/api/internal/search"
	"sitework/api/internal/store"
	"sitework/api/internal/util"
	"sitework/api/internal/workflow"
)

// Delta clamps: a change request may not swing the committed cost by more
// than ten million dollars or the schedule by more than a year either way.
const (
	maxCostDeltaCents    = int64(1_000_000_000)
	maxScheduleDeltaDays = 365
)

type ChangeInput struct {
	Title             string    `json:"title"`
	Body              string    `json:"body"`
	CostDelta         rawNumber `json:"costDelta"`
	ScheduleDeltaDays int       `json:"scheduleDeltaDays"`
}

func clampScheduleDelta(days int) int {
	if days > maxScheduleDeltaDays {
		return maxScheduleDeltaDays
	}
	if days < -maxScheduleDeltaDays {
		return -maxScheduleDeltaDays
	}
	return days
}

func (s *Service) normalizeChangeInput(input ChangeInput) (store.ChangeRequest, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.ChangeRequest{}, errValidation("title is required", map[string]any{"field": "title"})
	}
	if len(title) > maxItemTitleLen {
		return store.ChangeRequest{}, errValidation("title too long", map[string]any{"field": "title", "max": maxItemTitleLen})
	}
	costDelta, err := parseMoneyField("costDelta", input.CostDelta)
	if err != nil {
		return store.ChangeRequest{}, err
	}
	return store.ChangeRequest{
		Title:             title,
		Body:              strings.TrimSpace(input.Body),
		CostDeltaCents:    money.ClampCents(costDelta, maxCostDeltaCents),
		ScheduleDeltaDays: clampScheduleDelta(input.ScheduleDeltaDays),
	}, nil
}

func (s *Service) CreateChange(ctx context.Context, session Session, projectID string, input ChangeInput) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindProject, projectID); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	change, err := s.normalizeChangeInput(input)
	if err != nil {
		return nil, err
	}
	change.ID = util.NewID("chg")
	change.ProjectID = projectID
	change.Status = string(workflow.ChangeDraft)
	change.CreatedBy = session.UserID

	if err := s.store.InsertChangeRequest(ctx, change); err != nil {
		return nil, err
	}
	s.indexChange(change, project.ClientID)
	s.record("change.create", "change_request", change.ID, session.UserID, map[string]any{"projectId": projectID})

	created, err := s.store.GetChangeRequest(ctx, change.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"changeRequest": changePayload(created)}, nil
}

func (s *Service) GetChange(ctx context.Context, session Session, changeID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionRead, rbac.KindChangeRequest, changeID); err != nil {
		return nil, err
	}
	change, err := s.store.GetChangeRequest(ctx, changeID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"changeRequest": changePayload(change)}, nil
}

func (s *Service) ListChanges(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionRead, rbac.KindProject, projectID); err != nil {
		return nil, err
	}
	changes, err := s.store.ListChangeRequests(ctx, projectID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(changes))
	for _, change := range changes {
		payloads = append(payloads, changePayload(change))
	}
	return map[string]any{"changeRequests": payloads}, nil
}

// UpdateChange edits a change request while it is still a draft.
func (s *Service) UpdateChange(ctx context.Context, session Session, changeID string, input ChangeInput) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindChangeRequest, changeID); err != nil {
		return nil, err
	}
	existing, err := s.store.GetChangeRequest(ctx, changeID)
	if err != nil {
		return nil, err
	}
	if existing.Status != string(workflow.ChangeDraft) {
		return nil, errLocked("Change request is not editable")
	}

	change, err := s.normalizeChangeInput(input)
	if err != nil {
		return nil, err
	}
	change.ID = changeID

	changed, err := s.store.UpdateChangeRequestDraft(ctx, change)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, errConflict("Change request is no longer a draft")
	}

	updated, err := s.store.GetChangeRequest(ctx, changeID)
	if err != nil {
		return nil, err
	}
	s.reindexChange(ctx, updated)
	s.record("change.update", "change_request", changeID, session.UserID, nil)
	return map[string]any{"changeRequest": changePayload(updated)}, nil
}

// DeleteChange hard-deletes a draft; anything past draft is kept for the
// record and can only be cancelled.
func (s *Service) DeleteChange(ctx context.Context, session Session, changeID string) error {
	if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindChangeRequest, changeID); err != nil {
		return err
	}
	existing, err := s.store.GetChangeRequest(ctx, changeID)
	if err != nil {
		return err
	}
	if existing.Status != string(workflow.ChangeDraft) {
		return errLocked("Only drafts can be deleted")
	}
	changed, err := s.store.DeleteChangeRequestDraft(ctx, changeID)
	if err != nil {
		return err
	}
	if !changed {
		return errConflict("Change request is no longer a draft")
	}
	if s.search != nil {
		s.search.DeleteChange(changeID)
	}
	s.record("change.delete", "change_request", changeID, session.UserID, nil)
	return nil
}

// SubmitChange is one-way: once submitted, the draft can never be edited
// again, only decided or cancelled.
func (s *Service) SubmitChange(ctx context.Context, session Session, changeID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindChangeRequest, changeID); err != nil {
		return nil, err
	}
	changed, err := s.store.SubmitChangeRequest(ctx, changeID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, errConflict("Change request already submitted")
	}
	s.record("change.submit", "change_request", changeID, session.UserID, nil)

	updated, err := s.store.GetChangeRequest(ctx, changeID)
	if err != nil {
		return nil, err
	}
	s.reindexChange(ctx, updated)
	return map[string]any{"changeRequest": changePayload(updated)}, nil
}

func (s *Service) CancelChange(ctx context.Context, session Session, changeID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindChangeRequest, changeID); err != nil {
		return nil, err
	}
	changed, err := s.store.CancelChangeRequest(ctx, changeID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, errConflict("Change request cannot be cancelled")
	}
	s.record("change.cancel", "change_request", changeID, session.UserID, nil)

	updated, err := s.store.GetChangeRequest(ctx, changeID)
	if err != nil {
		return nil, err
	}
	s.reindexChange(ctx, updated)
	return map[string]any{"changeRequest": changePayload(updated)}, nil
}

// MarkChangeImplemented closes out an approved change request once the work
// has landed on site.
func (s *Service) MarkChangeImplemented(ctx context.Context, session Session, changeID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionDecide, rbac.KindChangeRequest, changeID); err != nil {
		return nil, err
	}
	changed, err := s.store.MarkChangeRequestImplemented(ctx, changeID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, errConflict("Change request is not approved")
	}
	s.record("change.implement", "change_request", changeID, session.UserID, nil)

	updated, err := s.store.GetChangeRequest(ctx, changeID)
	if err != nil {
		return nil, err
	}
	s.reindexChange(ctx, updated)
	return map[string]any{"changeRequest": changePayload(updated)}, nil
}

func (s *Service) indexChange(change store.ChangeRequest, clientID string) {
	if s.search == nil {
		return
	}
	s.search.IndexChange(search.ChangeRecord{
		ID:        change.ID,
		Title:     change.Title,
		Body:      change.Body,
		ProjectID: change.ProjectID,
		ClientID:  clientID,
		Status:    change.Status,
	})
}

func (s *Service) reindexChange(ctx context.Context, change store.ChangeRequest) {
	if s.search == nil {
		return
	}
	clientID := ""
	if project, err := s.store.GetProject(ctx, change.ProjectID); err == nil {
		clientID = project.ClientID
	}
	s.indexChange(change, clientID)
}

func changePayload(change store.ChangeRequest) map[string]any {
	payload := map[string]any{
		"id":                change.ID,
		"projectId":         change.ProjectID,
		"title":             change.Title,
		"body":              change.Body,
		"status":            change.Status,
		"costDeltaCents":    change.CostDeltaCents,
		"costDelta":         money.FormatCents(change.CostDeltaCents),
		"scheduleDeltaDays": change.ScheduleDeltaDays,
		"createdBy":         change.CreatedBy,
		"createdAt":         change.CreatedAt,
	}
	if change.SubmittedAt != nil {
		payload["submittedAt"] = *change.SubmittedAt
	}
	if change.DecidedAt != nil {
		payload["decidedAt"] = *change.DecidedAt
		payload["decidedBy"] = change.DecidedBy
		payload["decisionNote"] = change.DecisionNote
	}
	return payload
}
