package money

import "math"

// ItemTotal computes a line item total in cents. Fixed-price items carry
// their own total; quantity-priced items multiply quantity by unit cost and
// round to the nearest cent.
func ItemTotal(pricingMode string, quantity float64, unitCostCents, fixedCostCents int64) int64 {
	switch pricingMode {
	case "hours", "sqm":
		return int64(math.Round(quantity * float64(unitCostCents)))
	default:
		return fixedCostCents
	}
}
