package errors

const (
	CodeEntryNotFound   Code = "ENTRY_NOT_FOUND"
	CodeEntryResolved   Code = "ENTRY_RESOLVED"
	CodeDeferred        Code = "DEFERRED"
	CodeUnsupportedKind Code = "UNSUPPORTED_ACTION"
)

var (
	ErrEntryNotFound = &DomainError{
		Code:    CodeEntryNotFound,
		Message: "compensation entry not found",
	}
	ErrEntryResolved = &DomainError{
		Code:    CodeEntryResolved,
		Message: "compensation entry already resolved",
	}
	// ErrDeferred is returned when a dependent action failed and was queued.
	ErrDeferred = &DomainError{
		Code:    CodeDeferred,
		Message: "operation failed and was queued for compensation",
	}
	ErrUnsupportedAction = &DomainError{
		Code:    CodeUnsupportedKind,
		Message: "compensation action type has no replay handler",
	}
)
