package compensation

import (
	"context"
	"time"

	"ledgercore/internal/domain/identity"
	"ledgercore/internal/models"
	"ledgercore/internal/repositories"
	"ledgercore/internal/services/wallet"

	"github.com/shopspring/decimal"
)

// Action is a dependent financial action whose failure must not be lost.
type Action struct {
	Type      string
	AccountID string
	UserID    string
	EntityID  string
	Amount    decimal.Decimal
	Reason    string
	Actor     identity.Actor
}

// ListFilter narrows List.
type ListFilter = repositories.CompensationFilter

// ProcessResult summarises one sweep.
type ProcessResult struct {
	Processed int `json:"processed"`
	Retried   int `json:"retried"`
	Resolved  int `json:"resolved"`
	Expired   int `json:"expired"`
	Errors    int `json:"errors"`
}

// Severity levels reported by Stats
const (
	SeverityHealthy  = "HEALTHY"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// AgeBuckets splits PENDING entries by how long they have waited.
type AgeBuckets struct {
	Healthy  int `json:"healthy"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
}

// ResolutionTimes are nearest-rank percentiles over resolved entries.
type ResolutionTimes struct {
	Samples int           `json:"samples"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
}

type Stats struct {
	Pending       int64           `json:"pending"`
	Resolved      int64           `json:"resolved"`
	Expired       int64           `json:"expired"`
	ManualReview  int64           `json:"manual_review"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
	OldestPending *time.Time      `json:"oldest_pending,omitempty"`
	Age           AgeBuckets      `json:"age"`
	Resolution    ResolutionTimes `json:"resolution"`
	Severity      string          `json:"severity"`
}

// Config tunes the processor. Zero values take the defaults.
type Config struct {
	BatchSize   int
	MaxRetries  int
	ExpireAfter time.Duration
	Backoff     []time.Duration
}

// Ledger is the part of the wallet service compensation replays into.
type Ledger interface {
	Debit(ctx context.Context, req wallet.Request) (*wallet.Result, error)
	Credit(ctx context.Context, req wallet.Request) (*wallet.Result, error)
	Refund(ctx context.Context, req wallet.Request) (*wallet.Result, error)
}

// LabelCanceller voids courier labels.
type LabelCanceller interface {
	CancelLabel(ctx context.Context, shipmentID string) error
}

// MetricsCollector receives queue events and gauges.
type MetricsCollector interface {
	RecordCompensation(outcome string)
	SetCompensationEntries(status string, n int64)
}

type noopMetrics struct{}

func (noopMetrics) RecordCompensation(string)            {}
func (noopMetrics) SetCompensationEntries(string, int64) {}

// Service defines the compensation queue API
type Service interface {
	ExecuteOrEnqueue(ctx context.Context, action Action) (*wallet.Result, *models.CompensationEntry, error)
	Enqueue(ctx context.Context, action Action, cause error) (*models.CompensationEntry, error)
	ProcessPending(ctx context.Context) (*ProcessResult, error)
	Retry(ctx context.Context, id string, actor identity.Actor) (*models.CompensationEntry, error)
	MarkResolved(ctx context.Context, id string, actor identity.Actor, notes string) (*models.CompensationEntry, error)
	List(ctx context.Context, filter ListFilter) ([]models.CompensationEntry, int64, error)
	Get(ctx context.Context, id string) (*models.CompensationEntry, error)
	Stats(ctx context.Context) (*Stats, error)
}
