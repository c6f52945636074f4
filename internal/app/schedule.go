package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"sitework/api/internal/conflict"
	"sitework/api/internal/rbac"
	"sitework/api/internal/store"
	"sitework/api/internal/util"
	"sitework/api/internal/workflow"
)

// scheduleTimeLayouts accepts YYYY-MM-DD HH:MM[:SS] with either a space or a
// T separator. A trailing Z is stripped before matching; all values are UTC.
var scheduleTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

func parseScheduleTime(raw string) (time.Time, bool) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(raw), "Z")
	for _, layout := range scheduleTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, trimmed, time.UTC); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func parseWindow(startRaw, endRaw string) (time.Time, time.Time, error) {
	start, ok := parseScheduleTime(startRaw)
	if !ok {
		return time.Time{}, time.Time{}, errValidation("invalid start time", map[string]any{"field": "start"})
	}
	end, ok := parseScheduleTime(endRaw)
	if !ok {
		return time.Time{}, time.Time{}, errValidation("invalid end time", map[string]any{"field": "end"})
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errValidation("end must be after start", nil)
	}
	return start, end, nil
}

// ProposeSchedule creates a submitted schedule proposal for a project and
// moves the project to schedule_proposed.
func (s *Service) ProposeSchedule(ctx context.Context, session Session, projectID, startRaw, endRaw, note string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindProject, projectID); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	current := workflow.ProjectStatus(project.Status)
	if current != workflow.ProjectScheduleProposed && !workflow.ProjectCanTransition(current, workflow.ProjectScheduleProposed) {
		return nil, errConflict("Project cannot accept a schedule proposal")
	}

	start, end, err := parseWindow(startRaw, endRaw)
	if err != nil {
		return nil, err
	}

	proposal := store.ScheduleProposal{
		ID:        util.NewID("prop"),
		ProjectID: projectID,
		Status:    string(workflow.ProposalSubmitted),
		StartsAt:  start,
		EndsAt:    end,
		Note:      strings.TrimSpace(note),
		CreatedBy: session.UserID,
	}
	if err := s.store.InsertScheduleProposal(ctx, proposal); err != nil {
		return nil, err
	}
	s.record("proposal.create", "schedule_proposal", proposal.ID, session.UserID, map[string]any{"projectId": projectID})

	created, err := s.store.GetScheduleProposal(ctx, proposal.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"proposal": proposalPayload(created)}, nil
}

func (s *Service) ListScheduleProposals(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionRead, rbac.KindProject, projectID); err != nil {
		return nil, err
	}
	proposals, err := s.store.ListScheduleProposals(ctx, projectID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(proposals))
	for _, proposal := range proposals {
		payloads = append(payloads, proposalPayload(proposal))
	}
	return map[string]any{"proposals": payloads}, nil
}

// CreateEvent authors a calendar event directly, outside the proposal flow.
func (s *Service) CreateEvent(ctx context.Context, session Session, projectID, title, startRaw, endRaw string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindProject, projectID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	trimmedTitle := strings.TrimSpace(title)
	if trimmedTitle == "" {
		return nil, errValidation("title is required", map[string]any{"field": "title"})
	}
	start, end, err := parseWindow(startRaw, endRaw)
	if err != nil {
		return nil, err
	}

	event := store.ScheduleEvent{
		ID:        util.NewID("evt"),
		ProjectID: projectID,
		Title:     trimmedTitle,
		StartsAt:  start,
		EndsAt:    end,
		Status:    string(workflow.EventApproved),
		CreatedBy: session.UserID,
	}
	if err := s.store.InsertScheduleEvent(ctx, event); err != nil {
		return nil, err
	}
	s.record("event.create", "schedule_event", event.ID, session.UserID, map[string]any{"projectId": projectID})

	created, err := s.store.GetScheduleEvent(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"event": eventPayload(created, false)}, nil
}

func (s *Service) UpdateEvent(ctx context.Context, session Session, eventID, title, startRaw, endRaw string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindScheduleEvent, eventID); err != nil {
		return nil, err
	}
	event, err := s.store.GetScheduleEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	trimmedTitle := strings.TrimSpace(title)
	if trimmedTitle == "" {
		return nil, errValidation("title is required", map[string]any{"field": "title"})
	}
	start, end, err := parseWindow(startRaw, endRaw)
	if err != nil {
		return nil, err
	}

	event.Title = trimmedTitle
	event.StartsAt = start
	event.EndsAt = end
	changed, err := s.store.UpdateScheduleEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, errConflict("Event is cancelled")
	}
	s.record("event.update", "schedule_event", eventID, session.UserID, nil)

	return map[string]any{"event": eventPayload(event, false)}, nil
}

// CancelEvent is terminal; a cancelled event never reappears on the calendar.
func (s *Service) CancelEvent(ctx context.Context, session Session, eventID string) error {
	if err := s.authorize(ctx, session, rbac.ActionWrite, rbac.KindScheduleEvent, eventID); err != nil {
		return err
	}
	changed, err := s.store.CancelScheduleEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if !changed {
		return errConflict("Event already cancelled")
	}
	s.record("event.cancel", "schedule_event", eventID, session.UserID, nil)
	return nil
}

func (s *Service) ListEvents(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionRead, rbac.KindProject, projectID); err != nil {
		return nil, err
	}
	events, err := s.store.ListScheduleEvents(ctx, projectID)
	if err != nil {
		return nil, err
	}

	flagged := s.conflictFlags(ctx)
	payloads := make([]map[string]any, 0, len(events))
	for _, event := range events {
		payloads = append(payloads, eventPayload(event, flagged[event.ID]))
	}
	return map[string]any{"events": payloads}, nil
}

// ScheduleConflicts runs the per-PM overlap sweep over every approved event
// and returns the flagged ones. The sweep spans every project in the tenant,
// so only admin and PM users may run it.
func (s *Service) ScheduleConflicts(ctx context.Context, session Session) (map[string]any, error) {
	role := rbac.Normalize(session.Role)
	if role != rbac.RoleAdmin && role != rbac.RolePM {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	windows, err := s.store.ListApprovedEventWindows(ctx)
	if err != nil {
		return nil, err
	}

	events := make([]conflict.Event, 0, len(windows))
	for _, w := range windows {
		events = append(events, conflict.Event{ID: w.EventID, PMID: w.PMID, Start: w.StartsAt, End: w.EndsAt})
	}
	flagged := conflict.Detect(events)

	conflicts := make([]map[string]any, 0, len(flagged))
	for _, w := range windows {
		if !flagged[w.EventID] {
			continue
		}
		conflicts = append(conflicts, map[string]any{
			"eventId":   w.EventID,
			"projectId": w.ProjectID,
			"title":     w.Title,
			"pmId":      w.PMID,
			"startsAt":  w.StartsAt,
			"endsAt":    w.EndsAt,
		})
	}
	return map[string]any{"conflicts": conflicts}, nil
}

// conflictFlags is the fail-open variant used to decorate event listings: a
// failed scan decorates nothing rather than failing the listing.
func (s *Service) conflictFlags(ctx context.Context) map[string]bool {
	windows, err := s.store.ListApprovedEventWindows(ctx)
	if err != nil {
		return nil
	}
	events := make([]conflict.Event, 0, len(windows))
	for _, w := range windows {
		events = append(events, conflict.Event{ID: w.EventID, PMID: w.PMID, Start: w.StartsAt, End: w.EndsAt})
	}
	return conflict.Detect(events)
}

func proposalPayload(proposal store.ScheduleProposal) map[string]any {
	payload := map[string]any{
		"id":        proposal.ID,
		"projectId": proposal.ProjectID,
		"status":    proposal.Status,
		"startsAt":  proposal.StartsAt,
		"endsAt":    proposal.EndsAt,
		"note":      proposal.Note,
		"createdBy": proposal.CreatedBy,
		"createdAt": proposal.CreatedAt,
	}
	if proposal.DecidedAt != nil {
		payload["decidedAt"] = *proposal.DecidedAt
		payload["decidedBy"] = proposal.DecidedBy
		payload["decisionNote"] = proposal.DecisionNote
	}
	return payload
}

func eventPayload(event store.ScheduleEvent, conflicted bool) map[string]any {
	return map[string]any{
		"id":        event.ID,
		"projectId": event.ProjectID,
		"title":     event.Title,
		"startsAt":  event.StartsAt,
		"endsAt":    event.EndsAt,
		"status":    event.Status,
		"createdBy": event.CreatedBy,
		"conflict":  conflicted,
	}
}
