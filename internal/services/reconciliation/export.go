package reconciliation

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"ledgercore/internal/models"

	"github.com/shopspring/decimal"
)

const exportPageSize = 500

var exportHeader = []string{
	"created_at",
	"transaction_ref",
	"entity_id",
	"courier",
	"billed_amount",
	"provider_cost",
	"margin",
	"margin_percent",
	"status",
	"pending_reason",
}

// ExportCSV streams the records selected by filter as ';'-separated CSV,
// newest first, amounts with two decimals. An empty status filter exports
// every status.
func (s *service) ExportCSV(ctx context.Context, w io.Writer, filter ListFilter) error {
	if len(filter.Statuses) == 1 && filter.Statuses[0] == "all" {
		filter.Statuses = nil
	}
	filter.SortBy = "created_at"
	filter.SortDesc = true
	filter.Limit = exportPageSize
	filter.Offset = 0

	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("failed to write export header: %w", err)
	}

	for {
		records, _, err := s.repo.List(ctx, filter)
		if err != nil {
			return err
		}
		for i := range records {
			if err := cw.Write(exportRow(&records[i])); err != nil {
				return fmt.Errorf("failed to write export row: %w", err)
			}
		}
		if len(records) < exportPageSize {
			break
		}
		filter.Offset += exportPageSize
	}

	cw.Flush()
	return cw.Error()
}

func exportRow(r *models.ReconciliationRecord) []string {
	return []string{
		r.CreatedAt.UTC().Format(time.RFC3339),
		r.TransactionRef,
		r.EntityID,
		r.Courier,
		r.BilledAmount.StringFixed(2),
		fixed(r.ProviderCost),
		fixed(r.Margin),
		fixed(r.MarginPercent),
		r.Status,
		r.PendingReason,
	}
}

func fixed(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}
