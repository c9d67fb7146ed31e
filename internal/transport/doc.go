// Package transport is the HTTP client for central's sync API (protocol v5).
//
// Every call runs under a bounded per-request timeout and is wrapped in a
// RetryPolicy that retries only transport-level failures. Auth failures and
// "site not authorised" are distinct error kinds and are never retried.
package transport
