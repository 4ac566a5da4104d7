// Package types defines the shared error taxonomy for pufferflow.
//
// Errors are structured values with a code, an optional operation name and
// item count, and a retryable marker. Callers branch on codes via
// GetErrorCode / IsCircuitOpen / IsQueueFull rather than matching concrete
// types, and the retry executor consults IsRetryable before re-attempting.
package types
