package pdl

import (
	"context"
	"errors"
	"fmt"

	"github.com/mzyy94/pkpgcounter/internal/extern"
)

var (
	ErrEmptyInput        = errors.New("input is empty")
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrSpreadsheetUnsupported is wrapped in a *FormatParseError when an
	// OpenDocument file carries neither a page count nor drawing pages.
	ErrSpreadsheetUnsupported = errors.New("OpenDocument spreadsheets are not supported")
)

// ExternalToolError reports a missing or failing external program.
type ExternalToolError = extern.Error

// UnsupportedFormatError is returned by Open when no format accepts the
// input. It matches ErrUnsupportedFormat.
type UnsupportedFormatError struct {
	Name string // input name
}

func (e *UnsupportedFormatError) Error() string {
	return "unknown file format (analysis of first data block failed)"
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

// FormatParseError reports input whose signature matched Format but whose
// structure could not be parsed.
type FormatParseError struct {
	Format string
	Err    error
}

func (e *FormatParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Format, e.Err)
}

func (e *FormatParseError) Unwrap() error { return e.Err }

// wrapCountError classifies an error returned by a counter. Cancellation and
// external tool failures pass through unchanged.
func wrapCountError(format string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var toolErr *ExternalToolError
	if errors.As(err, &toolErr) {
		return err
	}
	var parseErr *FormatParseError
	if errors.As(err, &parseErr) {
		return err
	}
	return &FormatParseError{Format: format, Err: err}
}
