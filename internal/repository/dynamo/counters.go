// Package dynamo implements analytics.CounterSource on DynamoDB.
//
// Table layout: partition key PK = "<companyId>#<domain>", sort key
// SK = "<yyyy-mm-dd>#<entityId>", so a date range is a single key
// condition on SK.
package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/pkg/awsconf"
	"github.com/ignite/outreach-analytics/internal/service/analytics"
)

const dayLayout = "2006-01-02"

// CounterItem is the stored shape of one daily counter row.
type CounterItem struct {
	PK             string `dynamodbav:"PK"`
	SK             string `dynamodbav:"SK"`
	EntityID       string `dynamodbav:"EntityID"`
	ParentID       string `dynamodbav:"ParentID,omitempty"`
	Day            string `dynamodbav:"Day"`
	Sent           int64  `dynamodbav:"Sent"`
	Delivered      int64  `dynamodbav:"Delivered"`
	Opened         int64  `dynamodbav:"Opened"`
	Clicked        int64  `dynamodbav:"Clicked"`
	Replied        int64  `dynamodbav:"Replied"`
	Bounced        int64  `dynamodbav:"Bounced"`
	Unsubscribed   int64  `dynamodbav:"Unsubscribed"`
	SpamComplaints int64  `dynamodbav:"SpamComplaints"`
}

// CounterRepo reads counters with paginated Query calls.
type CounterRepo struct {
	client dynamodb.QueryAPIClient
	table  string
}

// NewCounterRepo wraps an existing client (or a fake in tests).
func NewCounterRepo(client dynamodb.QueryAPIClient, table string) *CounterRepo {
	return &CounterRepo{client: client, table: table}
}

// NewFromConfig builds a client from AWS settings.
func NewFromConfig(ctx context.Context, c awsconf.Config, table string) (*CounterRepo, error) {
	cfg, err := awsconf.Load(ctx, c)
	if err != nil {
		return nil, err
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	})
	return NewCounterRepo(client, table), nil
}

// sortKeyRange returns inclusive SK bounds covering every day#entity key
// of r. The upper bound is the bare prefix of the day after End, which
// sorts after any End row whatever its entity id and before every row of
// the next day, since entity ids are never empty.
func sortKeyRange(r domain.DateRange) (from, to string) {
	from = r.Start.Format(dayLayout)
	to = r.End.AddDate(0, 0, 1).Format(dayLayout) + "#"
	return from, to
}

// PartitionKey returns the PK of a company's rows for d.
func PartitionKey(companyID string, d domain.Domain) string {
	return fmt.Sprintf("%s#%s", companyID, d)
}

func (r *CounterRepo) FetchCounters(ctx context.Context, q analytics.CounterQuery) ([]domain.CounterRow, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: PartitionKey(q.CompanyID, q.Domain)},
		},
	}
	if q.DateRange != nil {
		from, to := sortKeyRange(*q.DateRange)
		input.KeyConditionExpression = aws.String("PK = :pk AND SK BETWEEN :from AND :to")
		input.ExpressionAttributeValues[":from"] = &types.AttributeValueMemberS{Value: from}
		input.ExpressionAttributeValues[":to"] = &types.AttributeValueMemberS{Value: to}
	}

	var want map[string]bool
	if q.EntityIDs != nil {
		want = make(map[string]bool, len(q.EntityIDs))
		for _, id := range q.EntityIDs {
			want[id] = true
		}
	}

	var out []domain.CounterRow
	p := dynamodb.NewQueryPaginator(r.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying %s counters: %w", q.Domain, err)
		}

		var items []CounterItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshaling counter items: %w", err)
		}
		for _, it := range items {
			if want != nil && !want[it.EntityID] {
				continue
			}
			row, err := it.row()
			if err != nil {
				return nil, err
			}
			out = append(out, row)
		}
	}
	return out, nil
}

func (it CounterItem) row() (domain.CounterRow, error) {
	day, err := time.Parse(dayLayout, it.Day)
	if err != nil {
		return domain.CounterRow{}, fmt.Errorf("item %s: bad day %q: %w", it.SK, it.Day, err)
	}
	return domain.CounterRow{
		EntityID: it.EntityID,
		ParentID: it.ParentID,
		Date:     day,
		Counters: domain.PerformanceCounters{
			Sent:           it.Sent,
			Delivered:      it.Delivered,
			Opened:         it.Opened,
			Clicked:        it.Clicked,
			Replied:        it.Replied,
			Bounced:        it.Bounced,
			Unsubscribed:   it.Unsubscribed,
			SpamComplaints: it.SpamComplaints,
		},
	}, nil
}

// NewItem builds the stored item for a row (seeding and tests).
func NewItem(companyID string, d domain.Domain, row domain.CounterRow) CounterItem {
	day := domain.TruncateDay(row.Date).Format(dayLayout)
	c := row.Counters
	return CounterItem{
		PK:             PartitionKey(companyID, d),
		SK:             day + "#" + row.EntityID,
		EntityID:       row.EntityID,
		ParentID:       row.ParentID,
		Day:            day,
		Sent:           c.Sent,
		Delivered:      c.Delivered,
		Opened:         c.Opened,
		Clicked:        c.Clicked,
		Replied:        c.Replied,
		Bounced:        c.Bounced,
		Unsubscribed:   c.Unsubscribed,
		SpamComplaints: c.SpamComplaints,
	}
}
