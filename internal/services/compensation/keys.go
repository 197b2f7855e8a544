package compensation

import "ledgercore/internal/models"

// DeriveKey returns the idempotency key for an action on an entity. The key
// is used both for the queue entry and for the replayed ledger call, so a
// retry can never apply twice. Keys are scoped per action type.
func DeriveKey(actionType, entityID string) string {
	switch actionType {
	case models.CompensationActionRefund:
		return "cancel-" + entityID
	case models.CompensationActionCredit:
		return "credit-" + entityID
	case models.CompensationActionDebit:
		return "charge-" + entityID
	case models.CompensationActionCancelLabel:
		return "label-cancel-" + entityID
	default:
		return actionType + "-" + entityID
	}
}
