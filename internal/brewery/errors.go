package brewery

import "errors"

// Domain errors for the brewery package.
//
//	if errors.Is(err, brewery.ErrNotFound) {
//	    // skip the record
//	}
var (
	// ErrNotFound is returned when a (category, id) pair or a hardware
	// address does not match any entity.
	ErrNotFound = errors.New("brewery: not found")

	// ErrUnknownCategory is returned for a category name outside the four
	// store categories.
	ErrUnknownCategory = errors.New("brewery: unknown category")

	// ErrUnknownField is returned when a field does not exist on the entity.
	ErrUnknownField = errors.New("brewery: unknown field")

	// ErrReadOnlyField is returned when an external writer targets a field
	// owned by the control engine or device session.
	ErrReadOnlyField = errors.New("brewery: field is read-only")

	// ErrInvalidValue is returned when a written value cannot be converted
	// or is not finite.
	ErrInvalidValue = errors.New("brewery: invalid value")

	// ErrInvariantViolation is wrapped by InvariantViolation.
	ErrInvariantViolation = errors.New("brewery: invariant violation")

	// ErrDuplicate is returned when two entities share an ID or control pin.
	ErrDuplicate = errors.New("brewery: duplicate entity")
)
