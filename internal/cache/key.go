package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/filter"
)

const keyNamespace = "analytics"

// Prefix starts every analytics cache key.
const Prefix = keyNamespace + ":"

// Key identifies one cacheable computation. Build it with NewKey only.
type Key struct {
	Domain    domain.Domain
	Operation domain.Operation
	CompanyID string
	Hash      string

	filters domain.AnalyticsFilters
}

// NewKey derives a deterministic key from (domain, operation, filters).
// Filters are normalized here, so callers cannot key on raw input. scope
// adds extra discriminators such as a single entity id.
func NewKey(d domain.Domain, op domain.Operation, f domain.AnalyticsFilters, scope ...string) Key {
	f = filter.Normalize(f)

	payload, _ := json.Marshal(struct {
		Domain    domain.Domain           `json:"d"`
		Operation domain.Operation        `json:"o"`
		Filters   domain.AnalyticsFilters `json:"f"`
		Scope     []string                `json:"s,omitempty"`
	}{d, op, f, scope})
	sum := sha256.Sum256(payload)

	return Key{
		Domain:    d,
		Operation: op,
		CompanyID: f.CompanyID,
		Hash:      hex.EncodeToString(sum[:])[:24],
		filters:   f,
	}
}

// Filters returns the normalized filters the key was built from.
func (k Key) Filters() domain.AnalyticsFilters { return k.filters }

func (k Key) String() string {
	return CompanyPrefix(k.Domain, k.CompanyID) + string(k.Operation) + ":" + k.Hash
}

// DomainPrefix matches every key of a domain across all companies.
func DomainPrefix(d domain.Domain) string {
	return keyNamespace + ":" + string(d) + ":"
}

// CompanyPrefix matches every key of a domain for one company.
func CompanyPrefix(d domain.Domain, companyID string) string {
	return DomainPrefix(d) + url.QueryEscape(strings.TrimSpace(companyID)) + ":"
}

// InvalidationPrefixes lists the prefixes to drop when raw counters of
// change.Domain are written, including derived domains.
func InvalidationPrefixes(change domain.CountersChanged) []string {
	domains := append([]domain.Domain{change.Domain}, change.Domain.Dependents()...)
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		if change.CompanyID != "" {
			out = append(out, CompanyPrefix(d, change.CompanyID))
		} else {
			out = append(out, DomainPrefix(d))
		}
	}
	return out
}
