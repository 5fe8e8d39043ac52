package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/service/analytics"
)

// CounterRepo implements analytics.CounterSource against PostgreSQL.
// Rows live in analytics_counters, one per (company, domain, entity, day).
type CounterRepo struct{ db *sql.DB }

// NewCounterRepo creates a Postgres-backed counter source.
func NewCounterRepo(db *sql.DB) *CounterRepo { return &CounterRepo{db: db} }

func (r *CounterRepo) FetchCounters(ctx context.Context, q analytics.CounterQuery) ([]domain.CounterRow, error) {
	var (
		where = []string{"company_id = $1", "domain = $2"}
		args  = []interface{}{q.CompanyID, string(q.Domain)}
		idx   = 3
	)
	if q.EntityIDs != nil {
		where = append(where, fmt.Sprintf("entity_id = ANY($%d)", idx))
		args = append(args, pq.Array(q.EntityIDs))
		idx++
	}
	if q.DateRange != nil {
		where = append(where, fmt.Sprintf("day BETWEEN $%d AND $%d", idx, idx+1))
		args = append(args, q.DateRange.Start, q.DateRange.End)
	}

	query := `
		SELECT entity_id, COALESCE(parent_id, ''), day,
		       sent, delivered, opened, clicked, replied,
		       bounced, unsubscribed, spam_complaints
		FROM analytics_counters
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY day, entity_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s counters: %w", q.Domain, err)
	}
	defer rows.Close()

	var out []domain.CounterRow
	for rows.Next() {
		var (
			row domain.CounterRow
			c   = &row.Counters
		)
		if err := rows.Scan(
			&row.EntityID, &row.ParentID, &row.Date,
			&c.Sent, &c.Delivered, &c.Opened, &c.Clicked, &c.Replied,
			&c.Bounced, &c.Unsubscribed, &c.SpamComplaints,
		); err != nil {
			return nil, fmt.Errorf("scan counter row: %w", err)
		}
		row.Date = domain.TruncateDay(row.Date)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counter rows: %w", err)
	}
	return out, nil
}

// Upsert writes daily counters, replacing existing values for the same
// (company, domain, entity, day). The table trigger publishes the change
// on the analytics_counters_changed channel.
func (r *CounterRepo) Upsert(ctx context.Context, companyID string, d domain.Domain, rows []domain.CounterRow) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO analytics_counters
			(company_id, domain, entity_id, parent_id, day,
			 sent, delivered, opened, clicked, replied,
			 bounced, unsubscribed, spam_complaints, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (company_id, domain, entity_id, day) DO UPDATE SET
			parent_id = EXCLUDED.parent_id,
			sent = EXCLUDED.sent, delivered = EXCLUDED.delivered,
			opened = EXCLUDED.opened, clicked = EXCLUDED.clicked,
			replied = EXCLUDED.replied, bounced = EXCLUDED.bounced,
			unsubscribed = EXCLUDED.unsubscribed,
			spam_complaints = EXCLUDED.spam_complaints,
			updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		c := row.Counters
		if _, err := stmt.ExecContext(ctx,
			companyID, string(d), row.EntityID, row.ParentID, domain.TruncateDay(row.Date),
			c.Sent, c.Delivered, c.Opened, c.Clicked, c.Replied,
			c.Bounced, c.Unsubscribed, c.SpamComplaints,
		); err != nil {
			return fmt.Errorf("upsert counters for %s: %w", row.EntityID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}
