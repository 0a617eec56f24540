package arduino

import (
	"errors"
	"fmt"
)

// Domain errors for the Arduino bridge package.
var (
	// ErrLink is returned when the serial port cannot be opened, read or
	// written.
	ErrLink = errors.New("arduino: serial link failure")

	// ErrNotOpen is returned when the link is used before Open or after Close.
	ErrNotOpen = errors.New("arduino: link not open")

	// ErrMalformed is wrapped by a ParseError for lines that do not follow
	// the <category>:<key>=<value>... grammar.
	ErrMalformed = errors.New("arduino: malformed line")

	// ErrUnknownCategory is wrapped by a ParseError for lines whose
	// category is not one the host understands.
	ErrUnknownCategory = errors.New("arduino: unknown record category")

	// ErrSessionRunning is returned when Run is called twice.
	ErrSessionRunning = errors.New("arduino: session already running")
)

// ParseErrorKind classifies a decode failure.
type ParseErrorKind int

const (
	// Malformed means the line structure is broken.
	Malformed ParseErrorKind = iota
	// UnknownCategory means the structure is fine but the category is not recognised.
	UnknownCategory
)

func (k ParseErrorKind) String() string {
	if k == UnknownCategory {
		return "unknown category"
	}
	return "malformed"
}

// ParseError describes a line the codec could not decode.
type ParseError struct {
	Kind   ParseErrorKind
	Line   string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("arduino: %s line %q: %s", e.Kind, e.Line, e.Detail)
}

// Unwrap maps the kind onto ErrMalformed or ErrUnknownCategory.
func (e *ParseError) Unwrap() error {
	if e.Kind == UnknownCategory {
		return ErrUnknownCategory
	}
	return ErrMalformed
}
