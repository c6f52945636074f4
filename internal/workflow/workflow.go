// Package workflow defines the status vocabulary for every entity that moves
// through an approval lifecycle, plus the closed transition tables that gate
// status changes. Anything not listed in a table is rejected.
package workflow

// EstimateStatus is the lifecycle of an estimate (checklist).
type EstimateStatus string

const (
	EstimateDraft     EstimateStatus = "draft"
	EstimateSubmitted EstimateStatus = "submitted"
	EstimateApproved  EstimateStatus = "approved"
	EstimateRejected  EstimateStatus = "rejected"
)

// LeadStatus is the lifecycle of an inbound quote request.
type LeadStatus string

const (
	LeadNew                LeadStatus = "new"
	LeadChecklistSubmitted LeadStatus = "checklist_submitted"
	LeadApproved           LeadStatus = "approved"
	LeadRejected           LeadStatus = "rejected"
	LeadConverted          LeadStatus = "converted"
)

// ProjectStatus is the lifecycle of a materialized project.
type ProjectStatus string

const (
	ProjectActive           ProjectStatus = "active"
	ProjectScheduleProposed ProjectStatus = "schedule_proposed"
	ProjectScheduled        ProjectStatus = "scheduled"
	ProjectDone             ProjectStatus = "done"
	ProjectCancelled        ProjectStatus = "cancelled"
)

// ProposalStatus is the lifecycle of a schedule proposal. Proposals are born
// submitted; there is no draft state.
type ProposalStatus string

const (
	ProposalSubmitted ProposalStatus = "submitted"
	ProposalApproved  ProposalStatus = "approved"
	ProposalRejected  ProposalStatus = "rejected"
)

// EventStatus is the lifecycle of a calendar event. Cancel is terminal.
type EventStatus string

const (
	EventApproved  EventStatus = "approved"
	EventCancelled EventStatus = "cancelled"
)

// ChangeStatus is the lifecycle of a change request.
type ChangeStatus string

const (
	ChangeDraft       ChangeStatus = "draft"
	ChangeSubmitted   ChangeStatus = "submitted"
	ChangeApproved    ChangeStatus = "approved"
	ChangeRejected    ChangeStatus = "rejected"
	ChangeCancelled   ChangeStatus = "cancelled"
	ChangeImplemented ChangeStatus = "implemented"
)

var estimateTransitions = map[EstimateStatus]map[EstimateStatus]bool{
	EstimateDraft:     {EstimateSubmitted: true},
	EstimateSubmitted: {EstimateApproved: true, EstimateRejected: true},
	EstimateApproved:  {},
	EstimateRejected:  {},
}

var leadTransitions = map[LeadStatus]map[LeadStatus]bool{
	LeadNew:                {LeadChecklistSubmitted: true, LeadRejected: true},
	LeadChecklistSubmitted: {LeadApproved: true, LeadRejected: true},
	LeadApproved:           {LeadConverted: true},
	LeadRejected:           {},
	LeadConverted:          {},
}

var projectTransitions = map[ProjectStatus]map[ProjectStatus]bool{
	ProjectActive:           {ProjectScheduleProposed: true, ProjectCancelled: true},
	ProjectScheduleProposed: {ProjectScheduled: true, ProjectActive: true, ProjectCancelled: true},
	ProjectScheduled:        {ProjectDone: true, ProjectScheduleProposed: true, ProjectCancelled: true},
	ProjectDone:             {},
	ProjectCancelled:        {},
}

var proposalTransitions = map[ProposalStatus]map[ProposalStatus]bool{
	ProposalSubmitted: {ProposalApproved: true, ProposalRejected: true},
	ProposalApproved:  {},
	ProposalRejected:  {},
}

var eventTransitions = map[EventStatus]map[EventStatus]bool{
	EventApproved:  {EventCancelled: true},
	EventCancelled: {},
}

var changeTransitions = map[ChangeStatus]map[ChangeStatus]bool{
	ChangeDraft:       {ChangeSubmitted: true, ChangeCancelled: true},
	ChangeSubmitted:   {ChangeApproved: true, ChangeRejected: true, ChangeCancelled: true},
	ChangeApproved:    {ChangeImplemented: true, ChangeCancelled: true},
	ChangeRejected:    {},
	ChangeCancelled:   {},
	ChangeImplemented: {},
}

func canTransition[S comparable](current, next S, table map[S]map[S]bool) bool {
	allowed, ok := table[current]
	if !ok {
		return false
	}
	return allowed[next]
}

func EstimateCanTransition(current, next EstimateStatus) bool {
	return canTransition(current, next, estimateTransitions)
}

func LeadCanTransition(current, next LeadStatus) bool {
	return canTransition(current, next, leadTransitions)
}

func ProjectCanTransition(current, next ProjectStatus) bool {
	return canTransition(current, next, projectTransitions)
}

func ProposalCanTransition(current, next ProposalStatus) bool {
	return canTransition(current, next, proposalTransitions)
}

func EventCanTransition(current, next EventStatus) bool {
	return canTransition(current, next, eventTransitions)
}

func ChangeCanTransition(current, next ChangeStatus) bool {
	return canTransition(current, next, changeTransitions)
}

// ParseEstimateStatus validates a raw status string against the closed set.
func ParseEstimateStatus(raw string) (EstimateStatus, bool) {
	switch EstimateStatus(raw) {
	case EstimateDraft, EstimateSubmitted, EstimateApproved, EstimateRejected:
		return EstimateStatus(raw), true
	}
	return "", false
}

// ParseChangeStatus validates a raw status string against the closed set.
func ParseChangeStatus(raw string) (ChangeStatus, bool) {
	switch ChangeStatus(raw) {
	case ChangeDraft, ChangeSubmitted, ChangeApproved, ChangeRejected, ChangeCancelled, ChangeImplemented:
		return ChangeStatus(raw), true
	}
	return "", false
}

// ItemStatus is the per-line-item progress marker on an estimate.
type ItemStatus string

const (
	ItemTodo       ItemStatus = "todo"
	ItemInProgress ItemStatus = "in_progress"
	ItemDone       ItemStatus = "done"
	ItemBlocked    ItemStatus = "blocked"
)

// ParseItemStatus validates a raw item status against the closed set.
func ParseItemStatus(raw string) (ItemStatus, bool) {
	switch ItemStatus(raw) {
	case ItemTodo, ItemInProgress, ItemDone, ItemBlocked:
		return ItemStatus(raw), true
	}
	return "", false
}

// PricingMode selects how a line item's total is computed.
type PricingMode string

const (
	PricingFixed PricingMode = "fixed"
	PricingHours PricingMode = "hours"
	PricingSqm   PricingMode = "sqm"
)

// NormalizePricingMode returns the mode if valid, otherwise fixed.
func NormalizePricingMode(raw string) PricingMode {
	switch PricingMode(raw) {
	case PricingFixed, PricingHours, PricingSqm:
		return PricingMode(raw)
	}
	return PricingFixed
}
