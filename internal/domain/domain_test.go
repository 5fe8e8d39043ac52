package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrossDomainResultFlags(t *testing.T) {
	boom := ErrorMessage(errors.New("boom"))

	tests := []struct {
		name        string
		errs        map[string]*string
		wantSuccess bool
		wantPartial bool
	}{
		{"all ok", map[string]*string{"a": nil, "b": nil}, true, false},
		{"one failed", map[string]*string{"a": nil, "b": boom}, true, true},
		{"all failed", map[string]*string{"a": boom, "b": boom}, false, false},
		{"empty", nil, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCrossDomainResult(0, tt.errs)
			assert.Equal(t, tt.wantSuccess, r.Success)
			assert.Equal(t, tt.wantPartial, r.PartialFailure)
			assert.NotNil(t, r.Errors)
		})
	}
}

func TestParseDomain(t *testing.T) {
	for _, d := range AllDomains() {
		got, err := ParseDomain(string(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
	_, err := ParseDomain("contacts")
	assert.Error(t, err)
}

func TestDomainDependents(t *testing.T) {
	assert.Equal(t, []Domain{CrossDomain}, Mailboxes.Dependents())
	assert.Equal(t, []Domain{CrossDomain}, SendingDomains.Dependents())
	assert.Empty(t, Campaigns.Dependents())
}

func TestCountersAdd(t *testing.T) {
	a := PerformanceCounters{Sent: 10, Delivered: 9, Opened: 3}
	b := PerformanceCounters{Sent: 5, Delivered: 5, Clicked: 1}
	assert.Equal(t, PerformanceCounters{Sent: 15, Delivered: 14, Opened: 3, Clicked: 1}, a.Add(b))
	assert.True(t, PerformanceCounters{}.IsZero())
}

func TestDateRange(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r := DateRange{Start: start, End: start.AddDate(0, 0, 9)}
	assert.Equal(t, 10, r.Days())
	assert.True(t, r.Contains(start.Add(5*time.Hour)))
	assert.False(t, r.Contains(start.AddDate(0, 0, 10)))
}

func TestHealthSeverity(t *testing.T) {
	assert.Less(t, Healthy.Severity(), Degraded.Severity())
	assert.Less(t, Degraded.Severity(), Unhealthy.Severity())
}
