// Package export renders estimates to printable PDF documents.
package export

import (
	"errors"
	"time"
)

// Request contains parameters for an export operation
type Request struct {
	EstimateID string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// EstimateInfo holds estimate metadata for export
type EstimateInfo struct {
	ID           string
	Title        string
	Status       string
	ClientName   string
	SiteAddress  string
	DecidedAt    *time.Time
	DecisionNote string
	CreatedAt    time.Time
}

// ItemInfo holds one line item for export
type ItemInfo struct {
	Position       int
	Title          string
	PricingMode    string
	Quantity       float64
	UnitCostCents  int64
	FixedCostCents int64
}

var (
	// ErrContentUnavailable indicates the estimate could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
