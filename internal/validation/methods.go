package validation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "ledgercore/internal/errors"

	"github.com/shopspring/decimal"
)

// Validator collects field errors for domain requests
type Validator struct {
	Errors map[string]string
}

// New creates a new validator
func New() *Validator {
	return &Validator{Errors: make(map[string]string)}
}

// Valid checks if there are any validation errors
func (v *Validator) Valid() bool {
	return len(v.Errors) == 0
}

// AddError records the first error for field.
func (v *Validator) AddError(field, message string) {
	if _, exists := v.Errors[field]; !exists {
		v.Errors[field] = message
	}
}

// Check adds an error if the condition is false
func (v *Validator) Check(ok bool, field, message string) {
	if !ok {
		v.AddError(field, message)
	}
}

// Required checks that a string is not blank
func (v *Validator) Required(field, value string) {
	v.Check(strings.TrimSpace(value) != "", field, "must not be empty")
}

// MaxLength checks if a string has at most n characters
func (v *Validator) MaxLength(field, value string, n int) {
	v.Check(len(value) <= n, field, fmt.Sprintf("must not be more than %d characters long", n))
}

// OneOf checks that value is one of allowed.
func (v *Validator) OneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.AddError(field, "must be one of "+strings.Join(allowed, ", "))
}

// Amount checks a positive money amount with at most two decimals.
func (v *Validator) Amount(field string, d decimal.Decimal) {
	if !d.IsPositive() {
		v.AddError(field, "must be greater than 0")
		return
	}
	v.Check(d.Equal(d.Round(2)), field, "must have at most 2 decimal places")
}

// NonNegative checks a money amount that may be zero.
func (v *Validator) NonNegative(field string, d decimal.Decimal) {
	v.Check(!d.IsNegative(), field, "must not be negative")
}

// Time parses an RFC 3339 or YYYY-MM-DD value. Empty input yields nil.
func (v *Validator) Time(field, value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	v.AddError(field, "must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
	return nil
}

// Period checks that from is not after to.
func (v *Validator) Period(field string, from, to *time.Time) {
	if from != nil && to != nil {
		v.Check(!from.After(*to), field, "start must not be after end")
	}
}

// Err returns nil when valid, otherwise an INVALID_REQUEST error listing the
// failing fields in a stable order.
func (v *Validator) Err() error {
	if v.Valid() {
		return nil
	}
	fields := make([]string, 0, len(v.Errors))
	for f := range v.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v.Errors[f])
	}
	return apperrors.ErrInvalidRequest.WithMessage(strings.Join(parts, "; "))
}
