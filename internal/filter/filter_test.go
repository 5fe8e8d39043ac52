package filter

import (
	"errors"
	"testing"
	"time"

	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMissingCompany(t *testing.T) {
	for _, id := range []string{"", "   "} {
		_, err := Validate(Query{CompanyID: id})
		var vErr *domain.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, domain.MissingCompany, vErr.Code)
	}
}

func TestValidateIDLists(t *testing.T) {
	f, err := Validate(Query{
		CompanyID:  " acme ",
		DomainIDs:  []string{" b.com", "a.com", "b.com", ""},
		MailboxIDs: []string{"  ", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, "acme", f.CompanyID)
	assert.Equal(t, []string{"a.com", "b.com"}, f.DomainIDs)
	assert.Nil(t, f.MailboxIDs)
}

func TestEmptyListEqualsUnset(t *testing.T) {
	withEmpty, err := Validate(Query{CompanyID: "acme", DomainIDs: []string{" ", ""}})
	require.NoError(t, err)
	unset, err := Validate(Query{CompanyID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, unset, withEmpty)
	assert.False(t, withEmpty.Scoped())
}

func TestValidateDateRange(t *testing.T) {
	f, err := Validate(Query{CompanyID: "acme", DateRange: &RawRange{Start: "2026-01-01", End: "2026-01-10T15:04:05Z"}})
	require.NoError(t, err)
	require.NotNil(t, f.DateRange)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), f.DateRange.Start)
	assert.Equal(t, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), f.DateRange.End)

	// Inverted and unparsable ranges are dropped, not rejected.
	for _, r := range []*RawRange{
		{Start: "2026-02-01", End: "2026-01-01"},
		{Start: "yesterday", End: "2026-01-01"},
		{Start: "2026-01-01"},
	} {
		f, err := Validate(Query{CompanyID: "acme", DateRange: r})
		require.NoError(t, err)
		assert.Nil(t, f.DateRange)
	}
}

func TestValidateRequireRange(t *testing.T) {
	_, err := Validate(Query{CompanyID: "acme"}, RequireRange())
	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, domain.RangeRequired, vErr.Code)

	_, err = Validate(Query{CompanyID: "acme", DateRange: &RawRange{Start: "2026-02-01", End: "2026-01-01"}}, RequireRange())
	require.True(t, errors.As(err, &vErr))

	_, err = Validate(Query{CompanyID: "acme", DateRange: &RawRange{Start: "2026-01-01", End: "2026-01-01"}}, RequireRange())
	assert.NoError(t, err)
}

func TestValidateGranularity(t *testing.T) {
	cases := map[string]domain.Granularity{
		"":        domain.Day,
		"hourly":  domain.Day,
		"WEEK":    domain.Week,
		" month ": domain.Month,
		"day":     domain.Day,
	}
	for in, want := range cases {
		f, err := Validate(Query{CompanyID: "acme", Granularity: in})
		require.NoError(t, err)
		assert.Equal(t, want, f.Granularity, "input %q", in)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []domain.AnalyticsFilters{
		{},
		{CompanyID: " x ", DomainIDs: []string{"b", "a", "a", " "}, Granularity: "bogus"},
		{CompanyID: "x", MailboxIDs: []string{}, DateRange: &domain.DateRange{
			Start: time.Date(2026, 1, 5, 13, 0, 0, 0, time.FixedZone("EST", -5*3600)),
			End:   time.Date(2026, 1, 9, 23, 0, 0, 0, time.UTC),
		}},
		{CompanyID: "x", DateRange: &domain.DateRange{Start: time.Now(), End: time.Now().AddDate(0, 0, -3)}},
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once))
	}
}

func TestFromFiltersRoundTrip(t *testing.T) {
	f, err := Validate(Query{
		CompanyID:   "acme",
		DomainIDs:   []string{"a.com"},
		DateRange:   &RawRange{Start: "2026-01-01", End: "2026-01-31"},
		Granularity: "week",
	})
	require.NoError(t, err)

	again, err := Validate(FromFilters(f))
	require.NoError(t, err)
	assert.Equal(t, f, again)
}
