package reconciliation

import (
	"time"

	"ledgercore/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Classify compares what was billed with what the provider charged.
// A negative margin is a discrepancy immediately; a non-negative one is
// matched once the record is at least minAgeDays old, pending before that.
// MarginPercent is null when cost is zero.
func Classify(billed, cost decimal.Decimal, age time.Duration, minAgeDays int) Classification {
	margin := billed.Sub(cost).Round(2)
	c := Classification{Margin: margin}
	if !cost.IsZero() {
		c.MarginPercent = decimal.NewNullDecimal(margin.Div(cost).Mul(hundred).Round(2))
	}

	switch {
	case margin.IsNegative():
		c.Status = models.ReconciliationDiscrepancy
	case age >= time.Duration(minAgeDays)*24*time.Hour:
		c.Status = models.ReconciliationMatched
	default:
		c.Status = models.ReconciliationPending
	}
	return c
}
