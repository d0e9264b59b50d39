package knowledge

import (
	"errors"
	"fmt"

	"github.com/kontexa/kontexa/engine/core"
)

// ErrStoreUnavailable signals a transient store failure. Retrieval treats the
// affected scope as empty and continues with the remaining scopes.
var ErrStoreUnavailable = errors.New("knowledge: store unavailable")

// InvalidTenantError is the only fatal retrieval error: the raw tenant
// identifier cannot be represented as text at all.
type InvalidTenantError struct {
	Value any
}

func (e *InvalidTenantError) Error() string {
	return fmt.Sprintf("knowledge: tenant identifier of type %T cannot be coerced to text", e.Value)
}

// NewInvalidTenantError wraps a structurally invalid tenant identifier.
func NewInvalidTenantError(value any) error {
	return &InvalidTenantError{Value: value}
}

// IsInvalidTenant reports whether err is an InvalidTenantError.
func IsInvalidTenant(err error) bool {
	var target *InvalidTenantError
	return errors.As(err, &target)
}

// MalformedEntryError marks a stored row violating entry invariants.
// One bad row never aborts a retrieval; it is skipped with a warning.
type MalformedEntryError struct {
	EntryID core.ID
	Reason  string
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("knowledge: malformed entry %q: %s", e.EntryID, e.Reason)
}

// NewMalformedEntryError describes why an entry failed validation.
func NewMalformedEntryError(id core.ID, reason string) error {
	return &MalformedEntryError{EntryID: id, Reason: reason}
}

// IsMalformedEntry reports whether err is a MalformedEntryError.
func IsMalformedEntry(err error) bool {
	var target *MalformedEntryError
	return errors.As(err, &target)
}
