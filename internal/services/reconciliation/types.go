package reconciliation

import (
	"context"
	"io"
	"time"

	"ledgercore/internal/domain/identity"
	"ledgercore/internal/models"
	"ledgercore/internal/repositories"

	"github.com/shopspring/decimal"
)

// CostInput is a billed amount paired with what the provider charged.
// ProviderCost is nil while the courier has not invoiced yet.
type CostInput struct {
	TransactionRef string
	EntityID       string
	WorkspaceID    string
	Courier        string
	BilledAmount   decimal.Decimal
	ProviderCost   *decimal.Decimal
	NotApplicable  bool
	Notes          string
	Actor          identity.Actor
}

// ListFilter narrows List.
type ListFilter = repositories.ReconciliationFilter

// Classification is the outcome of comparing billed and cost.
type Classification struct {
	Margin        decimal.Decimal
	MarginPercent decimal.NullDecimal
	Status        string
}

// BulkResult summarises a bulk job.
type BulkResult struct {
	Candidates int   `json:"candidates"`
	Updated    int64 `json:"updated"`
	Batches    int   `json:"batches"`
	Failed     int   `json:"failed_batches"`
}

type Stats struct {
	Total           int64           `json:"total"`
	Pending         int64           `json:"pending"`
	Matched         int64           `json:"matched"`
	Discrepancy     int64           `json:"discrepancy"`
	Resolved        int64           `json:"resolved"`
	PendingBilled   decimal.Decimal `json:"pending_billed"`
	DiscrepancyLoss decimal.Decimal `json:"discrepancy_loss"`
	TotalMargin     decimal.Decimal `json:"total_margin"`
}

// CourierMargin is the margin earned per courier.
type CourierMargin struct {
	Courier          string          `json:"courier"`
	Records          int64           `json:"records"`
	TotalBilled      decimal.Decimal `json:"total_billed"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	GrossMargin      decimal.Decimal `json:"gross_margin"`
	AvgMarginPercent decimal.Decimal `json:"avg_margin_percent"`
}

// Alert severities
const (
	AlertInfo     = "info"
	AlertWarning  = "warning"
	AlertCritical = "critical"
)

// Alert types
const (
	AlertNegativeMargin = "negative_margin"
	AlertOverdue        = "reconciliation_overdue"
)

// Alert is a grouped finding for operators.
type Alert struct {
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// Config tunes the service. Zero values take the defaults.
type Config struct {
	AutoMatchMinAge  int
	BatchSize        int
	OverdueAfter     time.Duration
	CriticalMargin   decimal.Decimal
	PendingListLimit int
	AlertListLimit   int
	OverdueWarnCount int
	OverdueCritCount int
}

// MetricsCollector receives record gauges.
type MetricsCollector interface {
	SetReconciliationRecords(status string, n int64)
}

type noopMetrics struct{}

func (noopMetrics) SetReconciliationRecords(string, int64) {}

// Service defines the reconciliation API
type Service interface {
	RecordCost(ctx context.Context, in CostInput) (*models.ReconciliationRecord, error)
	Get(ctx context.Context, id string) (*models.ReconciliationRecord, error)
	List(ctx context.Context, filter ListFilter) ([]models.ReconciliationRecord, int64, error)
	Pending(ctx context.Context) ([]models.ReconciliationRecord, error)
	UpdateStatus(ctx context.Context, id, status, note string, actor identity.Actor) (*models.ReconciliationRecord, error)
	AutoReconcilePositiveMargins(ctx context.Context, minAgeDays int) (*BulkResult, error)
	FlagNegativeMargins(ctx context.Context) (*BulkResult, error)
	Stats(ctx context.Context) (*Stats, error)
	MarginByCourier(ctx context.Context, since *time.Time) ([]CourierMargin, error)
	Alerts(ctx context.Context) ([]Alert, error)
	ExportCSV(ctx context.Context, w io.Writer, filter ListFilter) error
}
