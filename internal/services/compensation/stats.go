package compensation

import (
	"context"
	"math"
	"slices"
	"time"

	"ledgercore/internal/models"

	"github.com/shopspring/decimal"
)

// Age thresholds for PENDING entries
const (
	WarningAge  = 24 * time.Hour
	CriticalAge = 7 * 24 * time.Hour
)

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	manual, err := s.repo.CountManualReview(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.repo.Pending(ctx)
	if err != nil {
		return nil, err
	}
	durations, err := s.repo.ResolutionTimes(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Pending:       counts[models.CompensationPending],
		Resolved:      counts[models.CompensationResolved],
		Expired:       counts[models.CompensationExpired],
		ManualReview:  manual,
		PendingAmount: decimal.Zero,
	}

	now := s.now()
	for i, p := range pending {
		stats.PendingAmount = stats.PendingAmount.Add(p.Amount)
		if i == 0 {
			oldest := p.CreatedAt
			stats.OldestPending = &oldest
		}
		switch age := now.Sub(p.CreatedAt); {
		case age > CriticalAge:
			stats.Age.Critical++
		case age >= WarningAge:
			stats.Age.Warning++
		default:
			stats.Age.Healthy++
		}
	}

	stats.Resolution = percentiles(durations)
	stats.Severity = severity(stats)
	return stats, nil
}

func severity(stats *Stats) string {
	switch {
	case stats.Age.Critical > 0 || stats.Expired > 0:
		return SeverityCritical
	case stats.Age.Warning > 0:
		return SeverityWarning
	default:
		return SeverityHealthy
	}
}

// percentiles uses the nearest-rank method.
func percentiles(durations []time.Duration) ResolutionTimes {
	out := ResolutionTimes{Samples: len(durations)}
	if len(durations) == 0 {
		return out
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	rank := func(p float64) time.Duration {
		i := int(math.Ceil(p/100*float64(len(sorted)))) - 1
		if i < 0 {
			i = 0
		}
		return sorted[i]
	}
	out.P50 = rank(50)
	out.P95 = rank(95)
	out.P99 = rank(99)
	return out
}
