// Package httputil holds the JSON and NDJSON writers shared by the
// analytics handlers, plus the mapping from analytics errors to HTTP
// status codes and error codes.
package httputil
