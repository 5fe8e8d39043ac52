package domain

import (
	"fmt"
	"time"
)

// ValidationCode identifies why a query was rejected.
type ValidationCode string

const (
	MissingCompany ValidationCode = "MISSING_COMPANY"
	RangeRequired  ValidationCode = "RANGE_REQUIRED"
	ScopeRequired  ValidationCode = "SCOPE_REQUIRED"
	InvalidDomain  ValidationCode = "INVALID_DOMAIN"
)

// ValidationError rejects a malformed query before any cache or compute work.
type ValidationError struct {
	Code    ValidationCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TimeoutError reports that a single task exceeded its deadline.
type TimeoutError struct {
	Key     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("computation for %s timed out after %s", e.Key, e.Timeout)
}

// ServiceUnavailableError reports that a downstream collaborator could not
// be reached. It is recorded per key and degrades health; it is never
// retried by the orchestrator.
type ServiceUnavailableError struct {
	Service string
	Err     error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }
