package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"sitework/api/internal/export"
	"sitework/api/internal/money"
	"sitework/api/internal/rbac"
	"sitework/api/internal/search"
	"sitework/api/internal/store"
	"sitework/api/internal/util"
	"sitework/api/internal/workflow"
)

const maxItemTitleLen = 512

// rawNumber accepts a JSON string or a bare JSON number and keeps the raw
// text, so the strict money and quantity parsers see exactly what the caller
// sent.
type rawNumber string

func (n *rawNumber) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*n = rawNumber(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}
	*n = rawNumber(number.String())
	return nil
}

// ItemInput carries user-entered line item fields. Money and quantity fields
// are normalized strictly: a malformed amount is a validation error, never a
// silent zero.
type ItemInput struct {
	Title       string    `json:"title"`
	PricingMode string    `json:"pricingMode"`
	Quantity    rawNumber `json:"quantity"`
	UnitCost    rawNumber `json:"unitCost"`
	FixedCost   rawNumber `json:"fixedCost"`
	ItemStatus  string    `json:"itemStatus"`
}

func errLocked(message string) *DomainError {
	return domainError(http.StatusLocked, "LOCKED", message, nil)
}

func errConflict(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func parseMoneyField(field string, raw rawNumber) (int64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return 0, nil
	}
	cents, err := money.ParseMoney(trimmed)
	if err != nil {
		return 0, errValidation("invalid amount", map[string]any{"field": field})
	}
	return cents, nil
}

func parseQtyField(field string, raw rawNumber) (float64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return 0, nil
	}
	qty, err := money.ParseQty(trimmed)
	if err != nil {
		return 0, errValidation("invalid quantity", map[string]any{"field": field})
	}
	return qty, nil
}

// EnsureEstimate returns the parent's current estimate, creating a draft on
// first access. Exactly one active estimate exists per lead or project.
func (s *Service) EnsureEstimate(ctx context.Context, session Session, parentKind, parentID string) (map[string]any, error) {
	var (
		existing *store.Estimate
		draft    store.Estimate
	)

	switch parentKind {
	case "lead":
		if err := s.authorize(ctx, session, rbac.ActionRead, rbac.KindLead, parentID); err != nil {
			return nil, err
		}
		lead, err := s.store.GetLead(ctx, parentID)
		if err != nil {
			return nil, err
		}
		existing, err = s.store.GetActiveEstimateForLead(ctx, parentID)
		if err != nil {
			return nil, err
		}
		leadID := lead.ID
		draft = store.Estimate{LeadID: &leadID, Title: lead.Title}
	case "project":
		if err := s.authorize(ctx, session, rbac.ActionRead, rbac.KindProject, parentID); err != nil {
			return nil, err
		}
		project, err := s.store.GetProject(ctx, parentID)
		if err != nil {
			return nil, err
		}
		existing, err = s.store.GetActiveEstimateForProject(ctx, parentID)
		if err != nil {
			return nil, err
		}
		projectID := project.ID
		draft = store.Estimate{ProjectID: &projectID, Title: project.Title}
	default:
		return nil, errValidation("parent must be lead or project", nil)
	}

	if existing != nil {
		return s.estimatePayload(ctx, *existing)
	}

	if !s.Can(session.Role, rbac.ActionWrite) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}

	draft.ID = util.NewID("est")
	draft.Status = string(workflow.EstimateDraft)
	draft.CreatedBy = session.UserID
	if err := s.store.InsertEstimate(ctx, draft); err != nil {
		return nil, err
	}
	s.record("estimate.create", "estimate", draft.ID, session.UserID, map[string]any{"parent": parentKind, "parentId": parentID})

	created, err := s.store.GetEstimate(ctx, draft.ID)
	if err != nil {
		return nil, err
	}
	return s.estimatePayload(ctx, created)
}

func (s *Service) GetEstimateDetail(ctx context.Context, session Session, estimateID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionRead, rbac.KindEstimate, estimateID); err != nil {
		return nil, err
	}
	est, err := s.store.GetEstimate(ctx, estimateID)
	if err != nil {
		return nil, err
	}
	return s.estimatePayload(ctx, est)
}

func (s *Service) AddItem(ctx context.Context, session Session, estimateID string, input ItemInput) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindEstimate, estimateID); err != nil {
		return nil, err
	}
	est, err := s.store.GetEstimate(ctx, estimateID)
	if err != nil {
		return nil, err
	}
	if est.Status != string(workflow.EstimateDraft) {
		return nil, errLocked("Estimate is not editable")
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errValidation("title is required", map[string]any{"field": "title"})
	}
	if len(title) > maxItemTitleLen {
		return nil, errValidation("title too long", map[string]any{"field": "title", "max": maxItemTitleLen})
	}

	qty, err := parseQtyField("quantity", input.Quantity)
	if err != nil {
		return nil, err
	}
	unit, err := parseMoneyField("unitCost", input.UnitCost)
	if err != nil {
		return nil, err
	}
	fixed, err := parseMoneyField("fixedCost", input.FixedCost)
	if err != nil {
		return nil, err
	}

	itemStatus := string(workflow.ItemTodo)
	if raw := strings.TrimSpace(input.ItemStatus); raw != "" {
		parsed, ok := workflow.ParseItemStatus(raw)
		if !ok {
			return nil, errValidation("invalid item status", map[string]any{"field": "itemStatus"})
		}
		itemStatus = string(parsed)
	}

	position, err := s.store.NextItemPosition(ctx, estimateID)
	if err != nil {
		return nil, err
	}

	item := store.EstimateItem{
		ID:             util.NewID("itm"),
		EstimateID:     estimateID,
		Position:       position,
		Title:          title,
		PricingMode:    string(workflow.NormalizePricingMode(input.PricingMode)),
		Quantity:       qty,
		UnitCostCents:  unit,
		FixedCostCents: fixed,
		ItemStatus:     itemStatus,
	}
	if err := s.store.InsertEstimateItem(ctx, item); err != nil {
		return nil, err
	}
	s.record("estimate_item.add", "estimate", estimateID, session.UserID, map[string]any{"itemId": item.ID})

	return map[string]any{"item": itemPayload(item)}, nil
}

// UpdateItem applies a full edit while the estimate is a draft. After the
// estimate locks, project-scoped estimates accept item-status updates only and
// lead-scoped estimates are read-only.
func (s *Service) UpdateItem(ctx context.Context, session Session, itemID string, input ItemInput) (map[string]any, error) {
	item, err := s.store.GetEstimateItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	est, err := s.store.GetEstimate(ctx, item.EstimateID)
	if err != nil {
		return nil, err
	}

	if est.Status != string(workflow.EstimateDraft) {
		if est.ProjectID == nil {
			return nil, errLocked("Estimate is not editable")
		}
		if err := s.authorize(ctx, session, rbac.ActionItemStatus, rbac.KindEstimateItem, itemID); err != nil {
			return nil, err
		}
		parsed, ok := workflow.ParseItemStatus(strings.TrimSpace(input.ItemStatus))
		if !ok {
			return nil, errValidation("invalid item status", map[string]any{"field": "itemStatus"})
		}
		if err := s.store.UpdateEstimateItemStatus(ctx, itemID, string(parsed)); err != nil {
			return nil, err
		}
		item.ItemStatus = string(parsed)
		s.record("estimate_item.status", "estimate", est.ID, session.UserID, map[string]any{"itemId": itemID, "itemStatus": item.ItemStatus})
		return map[string]any{"item": itemPayload(item)}, nil
	}

	if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindEstimateItem, itemID); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errValidation("title is required", map[string]any{"field": "title"})
	}
	if len(title) > maxItemTitleLen {
		return nil, errValidation("title too long", map[string]any{"field": "title", "max": maxItemTitleLen})
	}
	qty, err := parseQtyField("quantity", input.Quantity)
	if err != nil {
		return nil, err
	}
	unit, err := parseMoneyField("unitCost", input.UnitCost)
	if err != nil {
		return nil, err
	}
	fixed, err := parseMoneyField("fixedCost", input.FixedCost)
	if err != nil {
		return nil, err
	}

	item.Title = title
	item.PricingMode = string(workflow.NormalizePricingMode(input.PricingMode))
	item.Quantity = qty
	item.UnitCostCents = unit
	item.FixedCostCents = fixed
	if raw := strings.TrimSpace(input.ItemStatus); raw != "" {
		parsed, ok := workflow.ParseItemStatus(raw)
		if !ok {
			return nil, errValidation("invalid item status", map[string]any{"field": "itemStatus"})
		}
		item.ItemStatus = string(parsed)
	}

	if err := s.store.UpdateEstimateItem(ctx, item); err != nil {
		return nil, err
	}
	s.record("estimate_item.update", "estimate", est.ID, session.UserID, map[string]any{"itemId": itemID})

	return map[string]any{"item": itemPayload(item)}, nil
}

func (s *Service) DeleteItem(ctx context.Context, session Session, itemID string) error {
	if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindEstimateItem, itemID); err != nil {
		return err
	}
	item, err := s.store.GetEstimateItem(ctx, itemID)
	if err != nil {
		return err
	}
	est, err := s.store.GetEstimate(ctx, item.EstimateID)
	if err != nil {
		return err
	}
	if est.Status != string(workflow.EstimateDraft) {
		return errLocked("Estimate is not editable")
	}
	if err := s.store.DeleteEstimateItem(ctx, itemID); err != nil {
		return err
	}
	s.record("estimate_item.delete", "estimate", est.ID, session.UserID, map[string]any{"itemId": itemID})
	return nil
}

// SubmitEstimate moves a draft with at least one item to submitted. A
// lead-scoped submit also advances the lead to checklist_submitted.
func (s *Service) SubmitEstimate(ctx context.Context, session Session, estimateID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindEstimate, estimateID); err != nil {
		return nil, err
	}
	est, err := s.store.GetEstimate(ctx, estimateID)
	if err != nil {
		return nil, err
	}
	if est.Status != string(workflow.EstimateDraft) {
		return nil, errConflict("Estimate already submitted")
	}
	count, err := s.store.CountEstimateItems(ctx, estimateID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errValidation("estimate needs at least one item", nil)
	}

	changed, err := s.store.SubmitEstimate(ctx, estimateID, est.LeadID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, errConflict("Estimate already submitted")
	}
	s.record("estimate.submit", "estimate", estimateID, session.UserID, nil)

	updated, err := s.store.GetEstimate(ctx, estimateID)
	if err != nil {
		return nil, err
	}
	return s.estimatePayload(ctx, updated)
}

// ConvertEstimate materializes a project from an approved lead estimate. The
// items are copied verbatim into a new project-scoped estimate that keeps the
// original's decision metadata, and the lead moves to converted.
func (s *Service) ConvertEstimate(ctx context.Context, session Session, estimateID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionConvert, rbac.KindEstimate, estimateID); err != nil {
		return nil, err
	}
	est, err := s.store.GetEstimate(ctx, estimateID)
	if err != nil {
		return nil, err
	}
	if est.LeadID == nil {
		return nil, errValidation("only lead estimates can be converted", nil)
	}
	if est.Status != string(workflow.EstimateApproved) {
		return nil, errConflict("Estimate is not approved")
	}
	lead, err := s.store.GetLead(ctx, *est.LeadID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListEstimateItems(ctx, estimateID)
	if err != nil {
		return nil, err
	}

	assignedPM := ""
	if rbac.Normalize(session.Role) == rbac.RolePM {
		assignedPM = session.UserID
	}
	leadID := lead.ID
	project := store.Project{
		ID:           util.NewID("prj"),
		LeadID:       &leadID,
		ClientID:     lead.ClientID,
		Title:        lead.Title,
		SiteAddress:  lead.SiteAddress,
		AssignedPMID: assignedPM,
		Status:       string(workflow.ProjectActive),
		CreatedBy:    session.UserID,
	}
	projectID := project.ID
	copied := store.Estimate{
		ID:           util.NewID("est"),
		ProjectID:    &projectID,
		Title:        est.Title,
		Status:       est.Status,
		CreatedBy:    est.CreatedBy,
		SubmittedAt:  est.SubmittedAt,
		DecidedAt:    est.DecidedAt,
		DecidedBy:    est.DecidedBy,
		DecisionNote: est.DecisionNote,
	}
	copiedItems := make([]store.EstimateItem, 0, len(items))
	for _, item := range items {
		item.ID = util.NewID("itm")
		item.EstimateID = copied.ID
		copiedItems = append(copiedItems, item)
	}

	if err := s.store.ConvertEstimate(ctx, project, copied, copiedItems, lead.ID); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			return nil, errConflict("Lead is not approved")
		}
		return nil, err
	}

	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{
			ID:          project.ID,
			Title:       project.Title,
			SiteAddress: project.SiteAddress,
			ClientID:    project.ClientID,
			Status:      project.Status,
		})
	}
	s.record("estimate.convert", "estimate", estimateID, session.UserID, map[string]any{"projectId": project.ID, "copiedEstimateId": copied.ID})

	return map[string]any{
		"projectId":  project.ID,
		"estimateId": copied.ID,
	}, nil
}

// ExportEstimate renders the estimate to PDF.
func (s *Service) ExportEstimate(ctx context.Context, session Session, estimateID string) (*export.Result, error) {
	if err := s.authorize(ctx, session, rbac.ActionRead, rbac.KindEstimate, estimateID); err != nil {
		return nil, err
	}
	result, err := s.export.Export(ctx, export.Request{EstimateID: estimateID})
	if err != nil {
		if errors.Is(err, export.ErrContentUnavailable) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil)
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) estimatePayload(ctx context.Context, est store.Estimate) (map[string]any, error) {
	items, err := s.store.ListEstimateItems(ctx, est.ID)
	if err != nil {
		return nil, err
	}

	var total int64
	itemPayloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		total += money.ItemTotal(item.PricingMode, item.Quantity, item.UnitCostCents, item.FixedCostCents)
		itemPayloads = append(itemPayloads, itemPayload(item))
	}

	payload := map[string]any{
		"id":         est.ID,
		"title":      est.Title,
		"status":     est.Status,
		"createdBy":  est.CreatedBy,
		"items":      itemPayloads,
		"totalCents": total,
		"total":      money.FormatCents(total),
		"createdAt":  est.CreatedAt,
	}
	if est.LeadID != nil {
		payload["leadId"] = *est.LeadID
	}
	if est.ProjectID != nil {
		payload["projectId"] = *est.ProjectID
	}
	if est.SubmittedAt != nil {
		payload["submittedAt"] = *est.SubmittedAt
	}
	if est.DecidedAt != nil {
		payload["decidedAt"] = *est.DecidedAt
		payload["decidedBy"] = est.DecidedBy
		payload["decisionNote"] = est.DecisionNote
	}
	return map[string]any{"estimate": payload}, nil
}

func itemPayload(item store.EstimateItem) map[string]any {
	lineTotal := money.ItemTotal(item.PricingMode, item.Quantity, item.UnitCostCents, item.FixedCostCents)
	return map[string]any{
		"id":             item.ID,
		"estimateId":     item.EstimateID,
		"position":       item.Position,
		"title":          item.Title,
		"pricingMode":    item.PricingMode,
		"quantity":       item.Quantity,
		"unitCostCents":  item.UnitCostCents,
		"fixedCostCents": item.FixedCostCents,
		"itemStatus":     item.ItemStatus,
		"lineTotalCents": lineTotal,
		"lineTotal":      money.FormatCents(lineTotal),
	}
}

// estimateExportSource adapts the data store to the export renderer's view.
type estimateExportSource struct {
	store dataStore
}

func (e *estimateExportSource) GetEstimateInfo(ctx context.Context, id string) (export.EstimateInfo, error) {
	est, err := e.store.GetEstimate(ctx, id)
	if err != nil {
		return export.EstimateInfo{}, err
	}

	info := export.EstimateInfo{
		ID:           est.ID,
		Title:        est.Title,
		Status:       est.Status,
		DecidedAt:    est.DecidedAt,
		DecisionNote: est.DecisionNote,
		CreatedAt:    est.CreatedAt,
	}

	clientID := ""
	switch {
	case est.LeadID != nil:
		lead, err := e.store.GetLead(ctx, *est.LeadID)
		if err != nil {
			return export.EstimateInfo{}, err
		}
		clientID = lead.ClientID
		info.SiteAddress = lead.SiteAddress
	case est.ProjectID != nil:
		project, err := e.store.GetProject(ctx, *est.ProjectID)
		if err != nil {
			return export.EstimateInfo{}, err
		}
		clientID = project.ClientID
		info.SiteAddress = project.SiteAddress
	}

	if clientID != "" {
		if user, err := e.store.GetUserByID(ctx, clientID); err == nil {
			info.ClientName = user.DisplayName
		}
	}
	return info, nil
}

func (e *estimateExportSource) ListEstimateItemInfos(ctx context.Context, estimateID string) ([]export.ItemInfo, error) {
	items, err := e.store.ListEstimateItems(ctx, estimateID)
	if err != nil {
		return nil, err
	}
	infos := make([]export.ItemInfo, 0, len(items))
	for _, item := range items {
		infos = append(infos, export.ItemInfo{
			Position:       item.Position,
			Title:          item.Title,
			PricingMode:    item.PricingMode,
			Quantity:       item.Quantity,
			UnitCostCents:  item.UnitCostCents,
			FixedCostCents: item.FixedCostCents,
		})
	}
	return infos, nil
}
