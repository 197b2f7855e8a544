package reconciliation

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"testing"
	"time"

	"ledgercore/internal/domain/identity"
	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/models"
	"ledgercore/internal/repositories"
	"ledgercore/internal/services/audit"
	"ledgercore/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var admin = identity.Actor{ActorID: "admin-1", UserID: "admin-1", Role: "admin"}

func newTestService(t *testing.T) (*service, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	svc := NewService(repositories.NewReconciliationRepository(db), audit.NewService(db, nil, nil), Config{}, nil, nil)
	return svc.(*service), db
}

func cost(s string) *decimal.Decimal {
	d := testutil.Money(s)
	return &d
}

func seed(t *testing.T, svc *service, ref, billed string, providerCost *decimal.Decimal) *models.ReconciliationRecord {
	t.Helper()
	r, err := svc.RecordCost(context.Background(), CostInput{
		TransactionRef: ref,
		EntityID:       "ship-" + ref,
		Courier:        "gls",
		BilledAmount:   testutil.Money(billed),
		ProviderCost:   providerCost,
		Actor:          admin,
	})
	require.NoError(t, err)
	return r
}

func backdate(t *testing.T, db *gorm.DB, id string, age time.Duration) {
	t.Helper()
	require.NoError(t, db.Model(&models.ReconciliationRecord{}).Where("id = ?", id).
		UpdateColumn("created_at", time.Now().UTC().Add(-age)).Error)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		billed  string
		cost    string
		age     time.Duration
		margin  string
		percent string
		status  string
	}{
		{"positive margin, young", "15", "10", 0, "5.00", "50.00", models.ReconciliationPending},
		{"positive margin, old enough", "15", "10", 8 * 24 * time.Hour, "5.00", "50.00", models.ReconciliationMatched},
		{"negative margin", "8", "10", 0, "-2.00", "-20.00", models.ReconciliationDiscrepancy},
		{"negative margin never matches", "8", "10", 30 * 24 * time.Hour, "-2.00", "-20.00", models.ReconciliationDiscrepancy},
		{"zero margin", "10", "10", 7 * 24 * time.Hour, "0.00", "0.00", models.ReconciliationMatched},
		{"zero cost", "4.99", "0", 0, "4.99", "", models.ReconciliationPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(testutil.Money(tt.billed), testutil.Money(tt.cost), tt.age, 7)
			assert.Equal(t, tt.margin, c.Margin.StringFixed(2))
			if tt.percent == "" {
				assert.False(t, c.MarginPercent.Valid)
			} else {
				require.True(t, c.MarginPercent.Valid)
				assert.Equal(t, tt.percent, c.MarginPercent.Decimal.StringFixed(2))
			}
			assert.Equal(t, tt.status, c.Status)
		})
	}
}

func TestRecordCost(t *testing.T) {
	svc, db := newTestService(t)

	r := seed(t, svc, "tx-1", "15", cost("10"))
	assert.Equal(t, models.ReconciliationPending, r.Status)
	assert.Equal(t, "5.00", r.Margin.Decimal.StringFixed(2))
	assert.Equal(t, "50.00", r.MarginPercent.Decimal.StringFixed(2))

	neg := seed(t, svc, "tx-2", "8", cost("10"))
	assert.Equal(t, models.ReconciliationDiscrepancy, neg.Status)
	assert.Equal(t, "-2.00", neg.Margin.Decimal.StringFixed(2))

	var flagged []models.AuditLog
	require.NoError(t, db.Where("action = ? AND target_id = ?", audit.ActionReconciliationFlagged, neg.ID).Find(&flagged).Error)
	assert.Len(t, flagged, 1)

	missing := seed(t, svc, "tx-3", "12", nil)
	assert.Equal(t, models.ReconciliationPending, missing.Status)
	assert.Equal(t, models.PendingReasonCostUnavailable, missing.PendingReason)
	assert.False(t, missing.Margin.Valid)

	// late invoice updates the same record
	updated := seed(t, svc, "tx-3", "12", cost("9"))
	assert.Equal(t, missing.ID, updated.ID)
	assert.Equal(t, "3.00", updated.Margin.Decimal.StringFixed(2))
	assert.Empty(t, updated.PendingReason)
}

func TestRecordCost_OldRecordMatchesOnLateCost(t *testing.T) {
	svc, db := newTestService(t)
	r := seed(t, svc, "tx-1", "15", nil)
	backdate(t, db, r.ID, 10*24*time.Hour)

	updated := seed(t, svc, "tx-1", "15", cost("10"))
	assert.Equal(t, models.ReconciliationMatched, updated.Status)
	assert.Equal(t, identity.SystemReconciliation, updated.ReconciledBy)
	assert.NotNil(t, updated.ReconciledAt)
}

func TestRecordCost_FinalRecordsAreImmutable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	r := seed(t, svc, "tx-1", "15", cost("10"))

	_, err := svc.UpdateStatus(ctx, r.ID, models.ReconciliationMatched, "checked invoice", admin)
	require.NoError(t, err)

	_, err = svc.RecordCost(ctx, CostInput{TransactionRef: "tx-1", BilledAmount: testutil.Money("15"), ProviderCost: cost("20")})
	assert.ErrorIs(t, err, apperrors.ErrRecordImmutable)

	got, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "5.00", got.Margin.Decimal.StringFixed(2))
}

func TestRecordCost_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordCost(ctx, CostInput{BilledAmount: testutil.Money("1")})
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)

	_, err = svc.RecordCost(ctx, CostInput{TransactionRef: "x", BilledAmount: testutil.Money("1"), ProviderCost: cost("-1")})
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)
}

func TestUpdateStatus_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		billed  string
		cost    string
		to      string
		wantErr *apperrors.DomainError
	}{
		{"pending to matched", "15", "10", models.ReconciliationMatched, nil},
		{"pending to discrepancy", "15", "10", models.ReconciliationDiscrepancy, nil},
		{"pending to resolved", "15", "10", models.ReconciliationResolved, nil},
		{"discrepancy to resolved", "8", "10", models.ReconciliationResolved, nil},
		{"discrepancy to matched", "8", "10", models.ReconciliationMatched, nil},
		{"discrepancy back to pending", "8", "10", models.ReconciliationPending, apperrors.ErrInvalidTransition},
		{"pending to pending", "15", "10", models.ReconciliationPending, apperrors.ErrInvalidTransition},
		{"unknown status", "15", "10", "archived", apperrors.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db := newTestService(t)
			r := seed(t, svc, "tx", tt.billed, cost(tt.cost))

			got, err := svc.UpdateStatus(context.Background(), r.ID, tt.to, "reviewed", admin)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, got.Status)
			assert.Equal(t, "admin-1", got.ReconciledBy)
			assert.NotNil(t, got.ReconciledAt)
			assert.Equal(t, "reviewed", got.Notes)

			var logs []models.AuditLog
			require.NoError(t, db.Where("target_id = ? AND actor_id = ? AND action IN ?", r.ID, "admin-1",
				[]string{audit.ActionReconciliationCompleted, audit.ActionReconciliationFlagged}).
				Order("created_at DESC").Find(&logs).Error)
			require.NotEmpty(t, logs)
		})
	}
}

func TestUpdateStatus_FinalStatesAreTerminal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	r := seed(t, svc, "tx", "8", cost("10"))

	_, err := svc.UpdateStatus(ctx, r.ID, models.ReconciliationResolved, "credited by courier", admin)
	require.NoError(t, err)

	for _, to := range []string{models.ReconciliationMatched, models.ReconciliationDiscrepancy, models.ReconciliationPending} {
		_, err := svc.UpdateStatus(ctx, r.ID, to, "", admin)
		assert.ErrorIs(t, err, apperrors.ErrRecordImmutable, to)
	}

	_, err = svc.UpdateStatus(ctx, "missing", models.ReconciliationMatched, "", admin)
	assert.ErrorIs(t, err, apperrors.ErrRecordNotFound)
}

func TestAutoReconcilePositiveMargins(t *testing.T) {
	svc, db := newTestService(t)
	svc.config.BatchSize = 2
	ctx := context.Background()

	var old []string
	for i := 0; i < 5; i++ {
		r := seed(t, svc, fmt.Sprintf("old-%d", i), "15", cost("10"))
		backdate(t, db, r.ID, 8*24*time.Hour)
		old = append(old, r.ID)
	}
	young := seed(t, svc, "young", "15", cost("10"))
	noCost := seed(t, svc, "no-cost", "15", nil)
	backdate(t, db, noCost.ID, 8*24*time.Hour)
	na, err := svc.RecordCost(ctx, CostInput{TransactionRef: "na", BilledAmount: testutil.Money("15"), ProviderCost: cost("10"), NotApplicable: true})
	require.NoError(t, err)
	assert.Equal(t, models.PendingReasonNotApplicable, na.PendingReason)
	backdate(t, db, na.ID, 8*24*time.Hour)

	res, err := svc.AutoReconcilePositiveMargins(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Candidates)
	assert.Equal(t, int64(5), res.Updated)
	assert.Equal(t, 3, res.Batches)

	for _, id := range old {
		got, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.ReconciliationMatched, got.Status)
		assert.Equal(t, identity.SystemReconciliation, got.ReconciledBy)
	}
	for _, id := range []string{young.ID, noCost.ID, na.ID} {
		got, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.ReconciliationPending, got.Status)
	}

	var batches int64
	require.NoError(t, db.Model(&models.AuditLog{}).Where("action = ?", audit.ActionReconciliationAutoMatch).Count(&batches).Error)
	assert.Equal(t, int64(3), batches)

	again, err := svc.AutoReconcilePositiveMargins(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, again.Updated)
}

func TestFlagNegativeMargins(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	// imported rows that never went through RecordCost
	for i, m := range []string{"-3.00", "-0.01", "2.00"} {
		require.NoError(t, db.Create(&models.ReconciliationRecord{
			TransactionRef: fmt.Sprintf("legacy-%d", i),
			BilledAmount:   testutil.Money("10"),
			ProviderCost:   decimal.NewNullDecimal(testutil.Money("10").Sub(testutil.Money(m))),
			Margin:         decimal.NewNullDecimal(testutil.Money(m)),
			Status:         models.ReconciliationPending,
		}).Error)
	}

	res, err := svc.FlagNegativeMargins(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Updated)
	assert.Equal(t, 1, res.Batches)

	list, total, err := svc.List(ctx, ListFilter{Statuses: []string{models.ReconciliationDiscrepancy}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, r := range list {
		assert.True(t, r.Margin.Decimal.IsNegative())
	}
}

func TestList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	seed(t, svc, "a", "15", cost("10"))
	seed(t, svc, "b", "8", cost("10"))
	c := seed(t, svc, "c", "20", cost("10"))
	_, err := svc.UpdateStatus(ctx, c.ID, models.ReconciliationMatched, "", admin)
	require.NoError(t, err)

	list, total, err := svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total, "defaults to pending and discrepancy")

	list, total, err = svc.List(ctx, ListFilter{Statuses: []string{"all"}, SortBy: "margin", SortDesc: true})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, "c", list[0].TransactionRef)
	assert.Equal(t, "b", list[2].TransactionRef)

	_, _, err = svc.List(ctx, ListFilter{SortBy: "id; DROP TABLE reconciliation_records"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)
}

func TestPendingOldestFirst(t *testing.T) {
	svc, db := newTestService(t)
	a := seed(t, svc, "a", "15", nil)
	b := seed(t, svc, "b", "15", nil)
	backdate(t, db, b.ID, 48*time.Hour)
	backdate(t, db, a.ID, time.Hour)

	pending, err := svc.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, b.ID, pending[0].ID)
}

func TestStatsAndMargins(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	seed(t, svc, "a", "15", cost("10"))
	seed(t, svc, "b", "8", cost("10"))
	seed(t, svc, "c", "12", nil)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, int64(1), stats.Discrepancy)
	assert.Equal(t, "27.00", stats.PendingBilled.StringFixed(2))
	assert.Equal(t, "-2.00", stats.DiscrepancyLoss.StringFixed(2))
	assert.Equal(t, "3.00", stats.TotalMargin.StringFixed(2))

	margins, err := svc.MarginByCourier(ctx, nil)
	require.NoError(t, err)
	require.Len(t, margins, 1)
	assert.Equal(t, "gls", margins[0].Courier)
	assert.Equal(t, int64(2), margins[0].Records)
	assert.Equal(t, "23.00", margins[0].TotalBilled.StringFixed(2))
	assert.Equal(t, "20.00", margins[0].TotalCost.StringFixed(2))
	assert.Equal(t, "3.00", margins[0].GrossMargin.StringFixed(2))
	assert.Equal(t, "15.00", margins[0].AvgMarginPercent.StringFixed(2))
}

func TestAlerts(t *testing.T) {
	svc, db := newTestService(t)
	svc.config.OverdueWarnCount = 1
	ctx := context.Background()

	seed(t, svc, "big-loss", "10", cost("75"))
	seed(t, svc, "small-loss", "8", cost("10"))
	for i := 0; i < 2; i++ {
		r := seed(t, svc, fmt.Sprintf("late-%d", i), "10", nil)
		backdate(t, db, r.ID, 9*24*time.Hour)
	}

	alerts, err := svc.Alerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 3)

	assert.Equal(t, AlertNegativeMargin, alerts[0].Type)
	assert.Equal(t, AlertCritical, alerts[0].Severity)
	assert.Equal(t, "-65.00", alerts[0].Data["total_loss"])

	assert.Equal(t, AlertWarning, alerts[1].Severity)
	assert.Equal(t, 1, alerts[1].Data["count"])

	assert.Equal(t, AlertOverdue, alerts[2].Type)
	assert.Equal(t, AlertWarning, alerts[2].Severity)
	assert.Equal(t, int64(2), alerts[2].Data["count"])
}

func TestExportCSV(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc, "a", "15", cost("10"))
	seed(t, svc, "b", "12", nil)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportCSV(context.Background(), &buf, ListFilter{}))

	r := csv.NewReader(&buf)
	r.Comma = ';'
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, exportHeader, rows[0])

	byRef := map[string][]string{}
	for _, row := range rows[1:] {
		byRef[row[1]] = row
	}
	assert.Equal(t, []string{"15.00", "10.00", "5.00", "50.00", models.ReconciliationPending, ""}, byRef["a"][4:])
	assert.Equal(t, []string{"12.00", "", "", "", models.ReconciliationPending, models.PendingReasonCostUnavailable}, byRef["b"][4:])
}
