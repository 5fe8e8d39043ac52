package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ignite/outreach-analytics/internal/cache"
	"github.com/ignite/outreach-analytics/internal/domain"
	"github.com/ignite/outreach-analytics/internal/filter"
	"github.com/ignite/outreach-analytics/internal/pkg/httputil"
	"github.com/ignite/outreach-analytics/internal/pkg/logger"
	"github.com/ignite/outreach-analytics/internal/service/analytics"
	"github.com/ignite/outreach-analytics/internal/warming"
)

// Handlers serves the analytics endpoints.
type Handlers struct {
	svc    *analytics.Service
	warmer *warming.Scheduler
	log    logger.Interface
}

// NewHandlers creates the analytics handlers. warmer may be nil when the
// process runs without a warming scheduler.
func NewHandlers(svc *analytics.Service, warmer *warming.Scheduler, log logger.Interface) *Handlers {
	if log == nil {
		log = logger.Default()
	}
	return &Handlers{svc: svc, warmer: warmer, log: log}
}

type queryRequest struct {
	filter.Query
	Domains []domain.Domain `json:"domains,omitempty"`
}

type timeSeriesRequest struct {
	filter.Query
	Domain domain.Domain `json:"domain"`
}

type joinRequest struct {
	filter.Query
	// All joins every sending domain and mailbox of the company.
	All bool `json:"all,omitempty"`
}

type invalidateRequest struct {
	Domain    domain.Domain `json:"domain,omitempty"`
	CompanyID string        `json:"companyId,omitempty"`
	Prefix    string        `json:"prefix,omitempty"`
}

type invalidateResponse struct {
	Removed  int      `json:"removed"`
	Prefixes []string `json:"prefixes"`
}

// HandleQuery computes per-domain overviews.
//
//	POST /api/analytics/query
func (h *Handlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.svc.Query(r.Context(), req.Query, req.Domains...)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

// HandleStream is HandleQuery delivered as NDJSON, one line per chunk of
// completed domains.
//
//	POST /api/analytics/stream
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	chunks, err := h.svc.QueryStream(r.Context(), req.Query, req.Domains...)
	if err != nil {
		writeError(w, err)
		return
	}

	out := httputil.NewNDJSON(w)
	for chunk := range chunks {
		if err := out.Send(chunk); err != nil {
			h.log.Warn("stream write failed", "error", err)
			// Drain so the producer goroutine can exit.
			for range chunks {
			}
			return
		}
	}
}

// HandleTimeSeries returns one domain's bucketed series.
//
//	POST /api/analytics/timeseries
func (h *Handlers) HandleTimeSeries(w http.ResponseWriter, r *http.Request) {
	var req timeSeriesRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.svc.TimeSeries(r.Context(), req.Query, req.Domain)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

// HandleJoin merges mailboxes into their sending domains.
//
//	POST /api/analytics/join
func (h *Handlers) HandleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	var (
		res analytics.JoinResult
		err error
	)
	if req.All {
		res, err = h.svc.JoinAll(r.Context(), req.Query)
	} else {
		res, err = h.svc.Join(r.Context(), req.Query)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

// HandleJoinTimeSeries is the bucketed join. Requires a date range.
//
//	POST /api/analytics/join/timeseries
func (h *Handlers) HandleJoinTimeSeries(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.svc.JoinTimeSeries(r.Context(), req.Query)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.OK(w, res)
}

// HandleInvalidate drops cache entries for a domain (and its dependents),
// optionally narrowed to one company, or for a raw key prefix.
//
//	POST /api/analytics/invalidate
func (h *Handlers) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	var prefixes []string
	switch {
	case req.Prefix != "":
		if !strings.HasPrefix(req.Prefix, cache.Prefix) {
			httputil.BadRequest(w, "prefix must start with "+cache.Prefix)
			return
		}
		prefixes = []string{req.Prefix}
	case req.Domain.Valid():
		prefixes = cache.InvalidationPrefixes(domain.CountersChanged{Domain: req.Domain, CompanyID: req.CompanyID})
	default:
		httputil.BadRequest(w, "a valid domain or prefix is required")
		return
	}

	resp := invalidateResponse{Prefixes: prefixes}
	for _, p := range prefixes {
		n, err := h.svc.Loader().Invalidate(r.Context(), p)
		if err != nil {
			httputil.JSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{
				Error: "cache unavailable", Code: "SERVICE_UNAVAILABLE",
			})
			h.log.Error("cache invalidation failed", "prefix", p, "error", err)
			return
		}
		resp.Removed += n
	}
	h.log.Info("cache invalidated", "prefixes", strings.Join(prefixes, ","), "removed", resp.Removed)
	httputil.OK(w, resp)
}

// HandleWarm runs every warming schedule once and returns the report.
//
//	POST /api/analytics/warm
func (h *Handlers) HandleWarm(w http.ResponseWriter, r *http.Request) {
	if h.warmer == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "warming is not enabled")
		return
	}
	httputil.OK(w, h.warmer.RunSchedule(r.Context()))
}

// HandleCacheStats reports loader hit, miss and compute counters.
//
//	GET /api/analytics/cache/stats
func (h *Handlers) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.svc.Loader().Stats())
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, analytics.ErrUnsupportedOperation) {
		httputil.JSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error(), Code: "UNSUPPORTED_OPERATION"})
		return
	}
	httputil.ServiceError(w, err)
}
