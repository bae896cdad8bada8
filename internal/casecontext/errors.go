package casecontext

import "fmt"

// MissingFieldError reports a case that lacks an identifying field needed to
// build any context.
type MissingFieldError struct {
	CaseNumber string
	Field      string
}

func (e *MissingFieldError) Error() string {
	if e.CaseNumber == "" {
		return fmt.Sprintf("case is missing required field %q", e.Field)
	}
	return fmt.Sprintf("case %s is missing required field %q", e.CaseNumber, e.Field)
}
