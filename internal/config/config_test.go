package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestGetters(t *testing.T) {
	t.Setenv("CFG_INT", "42")
	t.Setenv("CFG_BAD_INT", "x")
	t.Setenv("CFG_BOOL", "true")
	t.Setenv("CFG_DUR", "90s")
	t.Setenv("CFG_DEC", "12.50")
	t.Setenv("CFG_LIST", "a:1, b:2,,")

	assert.Equal(t, 42, GetIntEnv("CFG_INT", 1))
	assert.Equal(t, 1, GetIntEnv("CFG_BAD_INT", 1))
	assert.True(t, GetBoolEnv("CFG_BOOL", false))
	assert.Equal(t, 90*time.Second, GetDurationEnv("CFG_DUR", time.Second))
	assert.True(t, decimal.RequireFromString("12.5").Equal(GetDecimalEnv("CFG_DEC", decimal.Zero)))
	assert.Equal(t, []string{"a:1", "b:2"}, GetListEnv("CFG_LIST", nil))
	assert.Equal(t, "fallback", GetEnv("CFG_MISSING", "fallback"))
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.True(t, cfg.Ledger.MaxSingleOperation.Equal(decimal.NewFromInt(10000)))
	assert.True(t, cfg.Ledger.MaxBalance.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, 500, cfg.Reconciliation.BatchSize)
	assert.Equal(t, 7*24*time.Hour, cfg.Compensation.ExpireAfter)
	assert.Contains(t, cfg.Database.DSN(), "dbname=ledgercore")
}
