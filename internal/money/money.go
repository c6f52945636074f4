// Package money normalizes user-supplied decimal strings into integer cents
// and clamped float quantities. All monetary storage is integer cents; floats
// never carry currency.
package money

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrInvalidAmount   = errors.New("invalid money amount")
	ErrInvalidQuantity = errors.New("invalid quantity")
)

// MaxQty is the upper clamp for line-item quantities.
const MaxQty = 1_000_000

var amountPattern = regexp.MustCompile(`^-?\d+(\.\d{1,2})?$`)

// decimalComma matches amounts like "12,50" where the comma is a decimal
// separator rather than a thousands separator.
var decimalComma = regexp.MustCompile(`^-?\d+,\d{1,2}$`)

// ParseMoney converts a user-entered amount into integer cents. It strips a
// leading or trailing currency symbol and interior spaces, accepts either a
// comma or a dot as the decimal separator, and tolerates thousands
// separators ("$1,234.50" -> 123450). Anything else is rejected.
func ParseMoney(text string) (int64, error) {
	cleaned := normalizeAmount(text)
	if cleaned == "" || !amountPattern.MatchString(cleaned) {
		return 0, ErrInvalidAmount
	}

	negative := strings.HasPrefix(cleaned, "-")
	cleaned = strings.TrimPrefix(cleaned, "-")

	wholePart := cleaned
	fracPart := ""
	if idx := strings.IndexByte(cleaned, '.'); idx >= 0 {
		wholePart = cleaned[:idx]
		fracPart = cleaned[idx+1:]
	}
	for len(fracPart) < 2 {
		fracPart += "0"
	}

	whole, err := strconv.ParseInt(wholePart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	cents := whole*100 + frac
	if negative {
		cents = -cents
	}
	return cents, nil
}

// ParseMoneyLenient is the legacy behavior: invalid input becomes 0. Kept for
// display-only call sites; financial fields go through ParseMoney.
func ParseMoneyLenient(text string) int64 {
	cents, err := ParseMoney(text)
	if err != nil {
		return 0
	}
	return cents
}

// ParseQty converts a numeric string into a quantity clamped to
// [0, MaxQty]. Parse failures and non-finite values are rejected.
func ParseQty(text string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(text), ",", ".")
	if cleaned == "" {
		return 0, ErrInvalidQuantity
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, ErrInvalidQuantity
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, ErrInvalidQuantity
	}
	return ClampQty(value), nil
}

// ClampQty bounds an already-numeric quantity to [0, MaxQty]. Non-finite
// values collapse to 0.
func ClampQty(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	if value < 0 {
		return 0
	}
	if value > MaxQty {
		return MaxQty
	}
	return value
}

// ClampCents bounds a signed cents amount to [-limit, limit].
func ClampCents(cents, limit int64) int64 {
	if cents > limit {
		return limit
	}
	if cents < -limit {
		return -limit
	}
	return cents
}

// FormatCents renders integer cents as a plain decimal string ("1234.50").
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + strconv.FormatInt(cents/100, 10) + "." + pad2(cents%100)
}

func pad2(v int64) string {
	if v < 10 {
		return "0" + strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, 10)
}

func normalizeAmount(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.Trim(cleaned, "$€£")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")
	switch {
	case hasComma && hasDot:
		// The later separator is the decimal point; the other groups
		// thousands ("1,234.50" and "1.234,50" both work).
		if strings.LastIndexByte(cleaned, '.') > strings.LastIndexByte(cleaned, ',') {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		}
	case hasComma:
		if decimalComma.MatchString(cleaned) {
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}
	return cleaned
}
