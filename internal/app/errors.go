package app

import "fmt"

// DomainError is the typed failure every service operation returns. Status is
// the HTTP code the adapter writes; Code is the stable machine-readable tag
// clients branch on: VALIDATION_ERROR, FORBIDDEN, NOT_FOUND, LOCKED,
// CONFLICT, UNAUTHORIZED. Details carries optional field-level context, such
// as the name of the money field that failed to parse.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
