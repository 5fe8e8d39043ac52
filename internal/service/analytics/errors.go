package analytics

import (
	"errors"
	"fmt"

	"github.com/ignite/outreach-analytics/internal/domain"
)

// ErrUnsupportedOperation is returned when an operation cannot run on a domain.
var ErrUnsupportedOperation = errors.New("operation not supported for domain")

func invalidDomain(d domain.Domain) error {
	return &domain.ValidationError{
		Code:    domain.InvalidDomain,
		Message: fmt.Sprintf("domain %q cannot be queried directly", d),
	}
}

func scopeRequired() error {
	return &domain.ValidationError{
		Code:    domain.ScopeRequired,
		Message: "at least one of domainIds or mailboxIds is required; use the all-domains join for unscoped queries",
	}
}
