package store

import "time"

type User struct {
	ID              string
	DisplayName     string
	Email           string
	PasswordHash    string
	Role            string
	IsEmailVerified bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Lead struct {
	ID          string
	ClientID    string
	Title       string
	SiteAddress string
	Status      string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Project struct {
	ID           string
	LeadID       *string
	ClientID     string
	Title        string
	SiteAddress  string
	AssignedPMID string
	Status       string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Estimate struct {
	ID           string
	LeadID       *string
	ProjectID    *string
	Title        string
	Status       string
	CreatedBy    string
	SubmittedAt  *time.Time
	DecidedAt    *time.Time
	DecidedBy    string
	DecisionNote string
	CreatedAt    time.Time
}

type EstimateItem struct {
	ID             string
	EstimateID     string
	Position       int
	Title          string
	PricingMode    string
	Quantity       float64
	UnitCostCents  int64
	FixedCostCents int64
	ItemStatus     string
	CreatedAt      time.Time
}

type ScheduleProposal struct {
	ID           string
	ProjectID    string
	Status       string
	StartsAt     time.Time
	EndsAt       time.Time
	Note         string
	CreatedBy    string
	DecidedAt    *time.Time
	DecidedBy    string
	DecisionNote string
	CreatedAt    time.Time
}

type ScheduleEvent struct {
	ID        string
	ProjectID string
	Title     string
	StartsAt  time.Time
	EndsAt    time.Time
	Status    string
	CreatedBy string
	CreatedAt time.Time
}

// EventWindow is a schedule event joined to the owning project's assigned PM,
// the shape the conflict detector consumes.
type EventWindow struct {
	EventID   string
	ProjectID string
	Title     string
	PMID      string
	StartsAt  time.Time
	EndsAt    time.Time
}

type ChangeRequest struct {
	ID                string
	ProjectID         string
	Title             string
	Body              string
	Status            string
	CostDeltaCents    int64
	ScheduleDeltaDays int
	CreatedBy         string
	SubmittedAt       *time.Time
	DecidedAt         *time.Time
	DecidedBy         string
	DecisionNote      string
	CreatedAt         time.Time
}

type Attachment struct {
	ID          string
	ProjectID   *string
	EstimateID  *string
	ObjectKey   string
	Filename    string
	ContentType string
	SizeBytes   int64
	UploadedBy  string
	CreatedAt   time.Time
}
