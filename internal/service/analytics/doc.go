// Package analytics implements the aggregation layer: per-domain overviews,
// time series and the cross-domain join of sending domains with their
// mailboxes.
//
// Every computation runs as an orchestrator task behind the read-through
// cache. Raw counters come from a CounterSource; implementations live in
// repository/postgres, repository/dynamo and repository/remote.
package analytics
