// Package core is the application layer between the transports (HTTP, CLI,
// scheduler) and the ETL pipeline and item store.
//
// [Service] owns everything an import run needs beyond the pipeline itself:
// resolving the source with its fallbacks, tagging the run with an ID and a
// logger, bounding API-triggered runs with an [ImportLimiter], enforcing the
// run timeout and recording the outcome in the import history.
//
// It also serves the read side: paginated listing and the per-category
// average price, which is cached for a fixed TTL in a [cache.Cache].
//
// # Error Handling
//
// Errors cross this package unchanged so callers can use errors.Is against
// the etl sentinels. Transports turn them into user-facing text with
// [MapError], which attaches a support code:
//
//   - SRC001-SRC002: the source could not be fetched or was too large
//   - PARSE001-PARSE002: the source is not valid CSV/JSON or has an unknown type
//   - DB000-DB007: the store rejected the batch or is unreachable
//   - IMP001-IMP003: import capacity, timeout and cancellation
//   - API001-API003: bad paging, filter or request body
package core
