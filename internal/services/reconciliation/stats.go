package reconciliation

import (
	"context"
	"fmt"
	"time"

	"ledgercore/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// alertSampleSize caps the records quoted in one alert.
const alertSampleSize = 5

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	totals, err := s.repo.TotalsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		PendingBilled:   decimal.Zero,
		DiscrepancyLoss: decimal.Zero,
		TotalMargin:     decimal.Zero,
	}
	for _, t := range totals {
		stats.Total += t.Count
		stats.TotalMargin = stats.TotalMargin.Add(t.Margin)
		switch t.Status {
		case models.ReconciliationPending:
			stats.Pending = t.Count
			stats.PendingBilled = t.Billed.Round(2)
		case models.ReconciliationMatched:
			stats.Matched = t.Count
		case models.ReconciliationDiscrepancy:
			stats.Discrepancy = t.Count
			stats.DiscrepancyLoss = t.Margin.Round(2)
		case models.ReconciliationResolved:
			stats.Resolved = t.Count
		}
		s.metrics.SetReconciliationRecords(t.Status, t.Count)
	}
	stats.TotalMargin = stats.TotalMargin.Round(2)
	return stats, nil
}

func (s *service) refreshGauges(ctx context.Context) {
	if _, err := s.Stats(ctx); err != nil {
		s.logger.Warn("failed to refresh reconciliation gauges", zap.Error(err))
	}
}

// MarginByCourier aggregates costed records per courier, optionally from
// since onwards.
func (s *service) MarginByCourier(ctx context.Context, since *time.Time) ([]CourierMargin, error) {
	totals, err := s.repo.TotalsByCourier(ctx, since)
	if err != nil {
		return nil, err
	}

	out := make([]CourierMargin, 0, len(totals))
	for _, t := range totals {
		m := CourierMargin{
			Courier:          t.Courier,
			Records:          t.Records,
			TotalBilled:      t.Billed.Round(2),
			TotalCost:        t.Cost.Round(2),
			GrossMargin:      t.Margin.Round(2),
			AvgMarginPercent: decimal.Zero,
		}
		if !t.Cost.IsZero() {
			m.AvgMarginPercent = t.Margin.Div(t.Cost).Mul(hundred).Round(2)
		}
		out = append(out, m)
	}
	return out, nil
}

// Alerts groups negative margins by severity and reports overdue pending
// records.
func (s *service) Alerts(ctx context.Context) ([]Alert, error) {
	now := s.now()
	var alerts []Alert

	negative, err := s.repo.NegativeMargins(ctx,
		[]string{models.ReconciliationPending, models.ReconciliationDiscrepancy}, s.config.AlertListLimit)
	if err != nil {
		return nil, err
	}
	var critical, warning []models.ReconciliationRecord
	for _, r := range negative {
		if r.Margin.Decimal.LessThan(s.config.CriticalMargin) {
			critical = append(critical, r)
		} else {
			warning = append(warning, r)
		}
	}
	if len(critical) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertNegativeMargin,
			Severity: AlertCritical,
			Title:    fmt.Sprintf("%d shipments with a critical negative margin", len(critical)),
			Message: fmt.Sprintf("%d shipments lost more than %s each. Check the price lists.",
				len(critical), s.config.CriticalMargin.Neg().StringFixed(2)),
			Data:      negativeData(critical),
			Timestamp: now,
		})
	}
	if len(warning) > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertNegativeMargin,
			Severity:  AlertWarning,
			Title:     fmt.Sprintf("%d shipments with a negative margin", len(warning)),
			Message:   fmt.Sprintf("%d shipments were billed below cost.", len(warning)),
			Data:      negativeData(warning),
			Timestamp: now,
		})
	}

	overdue, err := s.repo.CountPendingBefore(ctx, now.Add(-s.config.OverdueAfter))
	if err != nil {
		return nil, err
	}
	if overdue > 0 {
		severity := AlertInfo
		switch {
		case overdue > int64(s.config.OverdueCritCount):
			severity = AlertCritical
		case overdue > int64(s.config.OverdueWarnCount):
			severity = AlertWarning
		}
		days := int(s.config.OverdueAfter.Hours() / 24)
		alerts = append(alerts, Alert{
			Type:      AlertOverdue,
			Severity:  severity,
			Title:     fmt.Sprintf("%d shipments to reconcile (>%dd)", overdue, days),
			Message:   fmt.Sprintf("%d shipments have been pending for more than %d days. Check with the couriers.", overdue, days),
			Data:      map[string]interface{}{"count": overdue, "days_pending": days},
			Timestamp: now,
		})
	}
	return alerts, nil
}

func negativeData(records []models.ReconciliationRecord) map[string]interface{} {
	loss := decimal.Zero
	items := make([]map[string]interface{}, 0, alertSampleSize)
	for i, r := range records {
		loss = loss.Add(r.Margin.Decimal)
		if i < alertSampleSize {
			items = append(items, map[string]interface{}{
				"id":              r.ID,
				"transaction_ref": r.TransactionRef,
				"courier":         r.Courier,
				"margin":          r.Margin.Decimal.StringFixed(2),
			})
		}
	}
	return map[string]interface{}{
		"count":      len(records),
		"total_loss": loss.StringFixed(2),
		"items":      items,
	}
}
