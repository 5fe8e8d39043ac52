package domain

import "fmt"

// Domain enumerates the data categories the analytics layer aggregates.
// The set is closed: every dispatch over it is an exhaustive switch, so
// adding a category is a compile-visible change.
type Domain string

const (
	Campaigns      Domain = "campaign"
	SendingDomains Domain = "domain"
	Mailboxes      Domain = "mailbox"
	Leads          Domain = "lead"
	Templates      Domain = "template"
	Billing        Domain = "billing"
	CrossDomain    Domain = "cross-domain"
)

// AllDomains returns every known category in a stable order.
func AllDomains() []Domain {
	return []Domain{Campaigns, SendingDomains, Mailboxes, Leads, Templates, Billing, CrossDomain}
}

// Valid reports whether d is one of the known categories.
func (d Domain) Valid() bool {
	switch d {
	case Campaigns, SendingDomains, Mailboxes, Leads, Templates, Billing, CrossDomain:
		return true
	}
	return false
}

// Dependents returns the derived categories whose cached values are built
// from d's raw counters and must be invalidated alongside it.
func (d Domain) Dependents() []Domain {
	switch d {
	case SendingDomains, Mailboxes:
		return []Domain{CrossDomain}
	case Campaigns, Leads, Templates, Billing, CrossDomain:
		return nil
	}
	return nil
}

// ParseDomain converts a wire value into a Domain.
func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown analytics domain %q", s)
	}
	return d, nil
}

// Operation enumerates the cacheable computations.
type Operation string

const (
	OpOverview   Operation = "overview"
	OpTimeSeries Operation = "timeseries"
	OpJoin       Operation = "join"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpOverview, OpTimeSeries, OpJoin:
		return true
	}
	return false
}

// ParseOperation converts a wire value into an Operation.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.Valid() {
		return "", fmt.Errorf("unknown analytics operation %q", s)
	}
	return op, nil
}
