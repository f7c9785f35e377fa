// Package observability builds the process logger and request-scoped
// loggers carrying the request id and verified caller.
package observability
