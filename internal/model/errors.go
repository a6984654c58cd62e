package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrorKind names a single reason a raw posting was rejected.
type ErrorKind string

const (
	ErrTitleMissing        ErrorKind = "TitleMissing"
	ErrTitleTooShort       ErrorKind = "TitleTooShort"
	ErrCompanyMissing      ErrorKind = "CompanyMissing"
	ErrCompanyInvalid      ErrorKind = "CompanyInvalid"
	ErrLocationMissing     ErrorKind = "LocationMissing"
	ErrCountryInvalid      ErrorKind = "CountryInvalid"
	ErrDescriptionTooShort ErrorKind = "DescriptionTooShort"
	ErrSpamDetected        ErrorKind = "SpamDetected"
	ErrSalaryNegative      ErrorKind = "SalaryNegative"
	ErrSalaryInverted      ErrorKind = "SalaryRangeInverted"
	ErrSalaryOutOfRange    ErrorKind = "SalaryOutOfRange"
	ErrSourceURLMissing    ErrorKind = "SourceURLMissing"
	ErrSourceURLInvalid    ErrorKind = "SourceURLInvalid"
	ErrTooManySkills       ErrorKind = "TooManySkills"
	ErrPostedInFuture      ErrorKind = "PostedInFuture"
	ErrDecodeFailed        ErrorKind = "DecodeFailed"
)

// ValidationError reports every reason a posting was rejected.
type ValidationError struct {
	Reasons []ErrorKind
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		parts[i] = string(r)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Has reports whether kind is among the reasons.
func (e *ValidationError) Has(kind ErrorKind) bool {
	for _, r := range e.Reasons {
		if r == kind {
			return true
		}
	}
	return false
}

var (
	// ErrProbeTransient marks a liveness probe that could not reach a verdict
	// (network error, timeout, 5xx). The record is left unchanged.
	ErrProbeTransient = eris.New("probe: transient failure")

	// ErrProbeGone marks a probe where the target confirmed removal (404/410).
	ErrProbeGone = eris.New("probe: posting gone")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = eris.New("record not found")

	// ErrConflict is returned by conditional writes when the row changed
	// since it was read.
	ErrConflict = eris.New("record changed concurrently")
)
