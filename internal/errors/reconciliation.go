package errors

const (
	CodeRecordNotFound    Code = "RECORD_NOT_FOUND"
	CodeRecordImmutable   Code = "RECORD_IMMUTABLE"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
)

var (
	ErrRecordNotFound = &DomainError{
		Code:    CodeRecordNotFound,
		Message: "reconciliation record not found",
	}
	ErrRecordImmutable = &DomainError{
		Code:    CodeRecordImmutable,
		Message: "record is matched or resolved and cannot change",
	}
	ErrInvalidTransition = &DomainError{
		Code:    CodeInvalidTransition,
		Message: "status transition not allowed",
	}
)
