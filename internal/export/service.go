package export

import (
	"context"
	"fmt"
	"strconv"

	"sitework/api/internal/money"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetEstimateInfo(ctx context.Context, id string) (EstimateInfo, error)
	ListEstimateItemInfos(ctx context.Context, estimateID string) ([]ItemInfo, error)
}

// Service renders estimates as PDF documents
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates a PDF for the requested estimate
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	info, err := s.store.GetEstimateInfo(ctx, req.EstimateID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	items, err := s.store.ListEstimateItemInfos(ctx, req.EstimateID)
	if err != nil {
		return nil, fmt.Errorf("list estimate items: %w", err)
	}

	data := BuildTemplateData(info, items)

	html, err := RenderEstimateHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return exportPDF(html, info.Title)
}

// BuildTemplateData converts estimate rows into the template view model,
// formatting money and computing the grand total.
func BuildTemplateData(info EstimateInfo, items []ItemInfo) TemplateData {
	data := TemplateData{
		Title:        info.Title,
		Status:       info.Status,
		ClientName:   info.ClientName,
		SiteAddress:  info.SiteAddress,
		CreatedAt:    info.CreatedAt,
		DecisionNote: info.DecisionNote,
		Items:        make([]TemplateItem, 0, len(items)),
	}

	var total int64
	for _, item := range items {
		lineTotal := money.ItemTotal(item.PricingMode, item.Quantity, item.UnitCostCents, item.FixedCostCents)
		total += lineTotal

		row := TemplateItem{
			Position:    item.Position,
			Title:       item.Title,
			PricingMode: item.PricingMode,
			LineTotal:   money.FormatCents(lineTotal),
		}
		if item.PricingMode != "fixed" {
			row.Quantity = strconv.FormatFloat(item.Quantity, 'f', -1, 64)
			row.UnitCost = money.FormatCents(item.UnitCostCents)
		}
		data.Items = append(data.Items, row)
	}
	data.Total = money.FormatCents(total)

	return data
}
