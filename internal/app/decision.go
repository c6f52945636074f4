package app

import (
	"context"
	"log"
	"strings"

	"sitework/api/internal/rbac"
	"sitework/api/internal/store"
	"sitework/api/internal/util"
	"sitework/api/internal/workflow"
)

// Decision subjects accepted by Decide.
const (
	DecideEstimate = "estimate"
	DecideProposal = "proposal"
	DecideChange   = "change"
)

// Decide applies an approve/reject verdict to a submitted estimate, schedule
// proposal or change request. The precondition status==submitted is enforced
// by a conditional update inside the store transaction, so a second decision
// on the same entity loses with CONFLICT and never overwrites the first.
// Approving a proposal creates its calendar event in the same transaction.
func (s *Service) Decide(ctx context.Context, session Session, subject, id, verdict, note string) (map[string]any, error) {
	verdict = strings.ToLower(strings.TrimSpace(verdict))
	if verdict != "approve" && verdict != "reject" {
		return nil, errValidation("verdict must be approve or reject", map[string]any{"field": "verdict"})
	}
	approved := verdict == "approve"
	note = strings.TrimSpace(note)

	switch subject {
	case DecideEstimate:
		return s.decideEstimate(ctx, session, id, approved, note)
	case DecideProposal:
		return s.decideProposal(ctx, session, id, approved, note)
	case DecideChange:
		return s.decideChange(ctx, session, id, approved, note)
	}
	return nil, errValidation("unknown decision subject", map[string]any{"field": "subject"})
}

func (s *Service) decideEstimate(ctx context.Context, session Session, estimateID string, approved bool, note string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionDecide, rbac.KindEstimate, estimateID); err != nil {
		return nil, err
	}
	est, err := s.store.GetEstimate(ctx, estimateID)
	if err != nil {
		return nil, err
	}

	verdictStatus := workflow.EstimateRejected
	leadStatus := workflow.LeadRejected
	if approved {
		verdictStatus = workflow.EstimateApproved
		leadStatus = workflow.LeadApproved
	}

	leadStatusArg := ""
	if est.LeadID != nil {
		leadStatusArg = string(leadStatus)
	}
	changed, err := s.store.DecideEstimate(ctx, estimateID, string(verdictStatus), session.UserID, note, est.LeadID, leadStatusArg)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, errConflict("Estimate already decided")
	}
	s.record("estimate.decide", "estimate", estimateID, session.UserID, map[string]any{"verdict": string(verdictStatus)})

	updated, err := s.store.GetEstimate(ctx, estimateID)
	if err != nil {
		return nil, err
	}
	s.notifyDecision(ctx, s.estimateClientID(ctx, updated), "estimate", updated.Title, string(verdictStatus), note)
	return s.estimatePayload(ctx, updated)
}

func (s *Service) decideProposal(ctx context.Context, session Session, proposalID string, approved bool, note string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionDecide, rbac.KindScheduleProposal, proposalID); err != nil {
		return nil, err
	}
	proposal, err := s.store.GetScheduleProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, proposal.ProjectID)
	if err != nil {
		return nil, err
	}

	var changed bool
	var eventID string
	if approved {
		event := store.ScheduleEvent{
			ID:        util.NewID("evt"),
			ProjectID: proposal.ProjectID,
			Title:     project.Title,
			StartsAt:  proposal.StartsAt,
			EndsAt:    proposal.EndsAt,
			Status:    string(workflow.EventApproved),
			CreatedBy: session.UserID,
		}
		changed, err = s.store.ApproveScheduleProposal(ctx, proposalID, session.UserID, note, event)
		eventID = event.ID
	} else {
		changed, err = s.store.RejectScheduleProposal(ctx, proposalID, session.UserID, note)
	}
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, errConflict("Proposal already decided")
	}

	verdictStatus := string(workflow.ProposalRejected)
	if approved {
		verdictStatus = string(workflow.ProposalApproved)
	}
	s.record("proposal.decide", "schedule_proposal", proposalID, session.UserID, map[string]any{"verdict": verdictStatus})
	s.notifyDecision(ctx, project.ClientID, "schedule proposal", project.Title, verdictStatus, note)

	updated, err := s.store.GetScheduleProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"proposal": proposalPayload(updated)}
	if approved {
		payload["eventId"] = eventID
	}
	return payload, nil
}

func (s *Service) decideChange(ctx context.Context, session Session, changeID string, approved bool, note string) (map[string]any, error) {
	if err := s.authorize(ctx, session, rbac.ActionDecide, rbac.KindChangeRequest, changeID); err != nil {
		return nil, err
	}

	verdictStatus := workflow.ChangeRejected
	if approved {
		verdictStatus = workflow.ChangeApproved
	}
	changed, err := s.store.DecideChangeRequest(ctx, changeID, string(verdictStatus), session.UserID, note)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, errConflict("Change request already decided")
	}
	s.record("change.decide", "change_request", changeID, session.UserID, map[string]any{"verdict": string(verdictStatus)})

	updated, err := s.store.GetChangeRequest(ctx, changeID)
	if err != nil {
		return nil, err
	}
	s.reindexChange(ctx, updated)

	clientID := ""
	if project, err := s.store.GetProject(ctx, updated.ProjectID); err == nil {
		clientID = project.ClientID
	}
	s.notifyDecision(ctx, clientID, "change request", updated.Title, string(verdictStatus), note)
	return map[string]any{"changeRequest": changePayload(updated)}, nil
}

func (s *Service) estimateClientID(ctx context.Context, est store.Estimate) string {
	switch {
	case est.LeadID != nil:
		if lead, err := s.store.GetLead(ctx, *est.LeadID); err == nil {
			return lead.ClientID
		}
	case est.ProjectID != nil:
		if project, err := s.store.GetProject(ctx, *est.ProjectID); err == nil {
			return project.ClientID
		}
	}
	return ""
}

// notifyDecision emails the owning client about a verdict. Best effort: a
// missing client, unconfigured SMTP or send failure never fails the decision.
func (s *Service) notifyDecision(ctx context.Context, clientID, subjectKind, subjectTitle, verdict, note string) {
	if clientID == "" || !s.SMTPConfigured() {
		return
	}
	client, err := s.store.GetUserByID(ctx, clientID)
	if err != nil || client.Email == "" {
		return
	}
	go func() {
		if err := s.email.SendDecisionEmail(client.Email, client.DisplayName, subjectKind, subjectTitle, verdict, note); err != nil {
			log.Printf("email: decision notification failed: %v", err)
		}
	}()
}
