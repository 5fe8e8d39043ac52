// Package remote implements analytics.CounterSource over the outreach
// platform's counter HTTP API.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/pkg/httpretry"
	"github.com/ignite/outreach-analytics/internal/service/analytics"
)

const dayLayout = "2006-01-02"

// CounterClient calls GET <base>/v1/counters.
type CounterClient struct {
	baseURL string
	token   string
	http    httpretry.HTTPDoer
}

// NewCounterClient creates a client. doer is usually a *httpretry.RetryClient.
func NewCounterClient(baseURL, token string, doer httpretry.HTTPDoer) *CounterClient {
	if doer == nil {
		doer = httpretry.NewRetryClient(nil, 3)
	}
	return &CounterClient{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: doer}
}

type countersResponse struct {
	Rows []domain.CounterRow `json:"rows"`
}

func (c *CounterClient) FetchCounters(ctx context.Context, q analytics.CounterQuery) ([]domain.CounterRow, error) {
	v := url.Values{}
	v.Set("companyId", q.CompanyID)
	v.Set("domain", string(q.Domain))
	for _, id := range q.EntityIDs {
		v.Add("entityId", id)
	}
	if q.DateRange != nil {
		v.Set("start", q.DateRange.Start.Format(dayLayout))
		v.Set("end", q.DateRange.End.Format(dayLayout))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/counters?"+v.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build counters request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &domain.ServiceUnavailableError{Service: "remote counters", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("counters API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if httpretry.IsRetryableStatus(resp.StatusCode) {
			return nil, &domain.ServiceUnavailableError{Service: "remote counters", Err: err}
		}
		return nil, err
	}

	var out countersResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode counters response: %w", err)
	}
	for i := range out.Rows {
		out.Rows[i].Date = domain.TruncateDay(out.Rows[i].Date)
	}
	return out.Rows, nil
}
