// Package rbac resolves whether a principal may touch a resource. The role
// gate is a pure function; resource scoping walks the ownership chain loaded
// by the caller-supplied store and denies when the resource is missing.
package rbac

import "context"

type Role string
type Action string
type ResourceKind string

const (
	RoleAdmin  Role = "admin"
	RolePM     Role = "pm"
	RoleOffice Role = "office"
	RoleWorker Role = "worker"
	RoleClient Role = "client"
)

const (
	ActionRead       Action = "read"
	ActionWrite      Action = "write"
	ActionItemStatus Action = "item_status"
	ActionDecide     Action = "decide"
	ActionConvert    Action = "convert"
)

const (
	KindLead             ResourceKind = "lead"
	KindProject          ResourceKind = "project"
	KindEstimate         ResourceKind = "estimate"
	KindEstimateItem     ResourceKind = "estimate_item"
	KindScheduleProposal ResourceKind = "schedule_proposal"
	KindScheduleEvent    ResourceKind = "schedule_event"
	KindChangeRequest    ResourceKind = "change_request"
	KindAttachment       ResourceKind = "attachment"
)

// Principal is the authenticated caller.
type Principal struct {
	ID   string
	Role Role
}

// Ownership is the resolved owner chain of a resource: the client who owns
// the parent lead/project and, when project-scoped, the project id.
type Ownership struct {
	ClientID  string
	ProjectID string
}

// OwnershipStore loads the data CanAccess needs. ResourceOwnership returns
// nil (not an error) when the resource does not exist.
type OwnershipStore interface {
	ResourceOwnership(ctx context.Context, kind ResourceKind, id string) (*Ownership, error)
	IsProjectMember(ctx context.Context, projectID, userID string) (bool, error)
}

// Can is the pure role/action gate, applied before resource scoping.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin, RolePM:
		return true
	case RoleOffice:
		return action == ActionRead || action == ActionWrite || action == ActionItemStatus
	case RoleWorker:
		return action == ActionRead || action == ActionItemStatus
	case RoleClient:
		return action == ActionRead || action == ActionDecide
	default:
		return false
	}
}

// Normalize maps unknown role strings to the least privileged role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RolePM, RoleOffice, RoleWorker, RoleClient:
		return Role(role)
	default:
		return RoleWorker
	}
}

// Resolver answers allow/deny per principal and resource.
type Resolver struct {
	store OwnershipStore
}

func NewResolver(store OwnershipStore) *Resolver {
	return &Resolver{store: store}
}

// CanAccess reports whether the principal may touch the resource at all.
// Admin and PM see everything. Clients see resources whose owning client is
// them. Every other role needs a membership row on the resource's project.
// A missing resource is a deny, never an error.
func (r *Resolver) CanAccess(ctx context.Context, p Principal, kind ResourceKind, id string) (bool, error) {
	switch p.Role {
	case RoleAdmin, RolePM:
		return true, nil
	}

	ownership, err := r.store.ResourceOwnership(ctx, kind, id)
	if err != nil {
		return false, err
	}
	if ownership == nil {
		return false, nil
	}

	if p.Role == RoleClient {
		return ownership.ClientID != "" && ownership.ClientID == p.ID, nil
	}

	if ownership.ProjectID == "" {
		return false, nil
	}
	return r.store.IsProjectMember(ctx, ownership.ProjectID, p.ID)
}
