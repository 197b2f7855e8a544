package wallet

import "github.com/shopspring/decimal"

// Operation names used in metrics and audit
const (
	OperationDebit    = "debit"
	OperationCredit   = "credit"
	OperationRefund   = "refund"
	OperationTransfer = "transfer"
)

// Metric results
const (
	ResultSuccess = "success"
	ResultReplay  = "replay"
	ResultFailure = "failure"
)

// Default ceilings
var (
	DefaultMaxSingleOperation = decimal.NewFromInt(10000)
	DefaultMaxBalance         = decimal.NewFromInt(100000)
)
