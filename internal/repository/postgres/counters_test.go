package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/service/analytics"
)

var counterColumns = []string{
	"entity_id", "parent_id", "day",
	"sent", "delivered", "opened", "clicked", "replied",
	"bounced", "unsubscribed", "spam_complaints",
}

func TestFetchCountersScoped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC)
	ids := []string{"a@x.io", "b@x.io"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM analytics_counters")).
		WithArgs("acme", "mailbox", pq.Array(ids), start, end).
		WillReturnRows(sqlmock.NewRows(counterColumns).
			AddRow("a@x.io", "x.io", start.Add(5*time.Hour), 10, 9, 4, 1, 1, 1, 0, 0).
			AddRow("b@x.io", "", end, 3, 3, 0, 0, 0, 0, 0, 0))

	repo := NewCounterRepo(db)
	rows, err := repo.FetchCounters(context.Background(), analytics.CounterQuery{
		CompanyID: "acme",
		Domain:    domain.Mailboxes,
		EntityIDs: ids,
		DateRange: &domain.DateRange{Start: start, End: end},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "x.io", rows[0].ParentID)
	assert.Equal(t, start, rows[0].Date)
	assert.Equal(t, int64(4), rows[0].Counters.Opened)
	assert.Equal(t, "", rows[1].ParentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchCountersUnscoped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`WHERE company_id = \$1 AND domain = \$2\s+ORDER BY day`).
		WithArgs("acme", "campaign").
		WillReturnRows(sqlmock.NewRows(counterColumns))

	rows, err := NewCounterRepo(db).FetchCounters(context.Background(), analytics.CounterQuery{
		CompanyID: "acme",
		Domain:    domain.Campaigns,
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchCountersQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM analytics_counters").WillReturnError(errors.New("connection refused"))

	_, err = NewCounterRepo(db).FetchCounters(context.Background(), analytics.CounterQuery{CompanyID: "acme", Domain: domain.Leads})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query lead counters")
}

func TestUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	d := time.Date(2026, 4, 1, 15, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO analytics_counters")
	prep.ExpectExec().
		WithArgs("acme", "domain", "x.io", "", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			int64(5), int64(5), int64(2), int64(0), int64(0), int64(0), int64(0), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = NewCounterRepo(db).Upsert(context.Background(), "acme", domain.SendingDomains, []domain.CounterRow{
		{EntityID: "x.io", Date: d, Counters: domain.PerformanceCounters{Sent: 5, Delivered: 5, Opened: 2}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
