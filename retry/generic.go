package retry

import "context"

// DoWithResult is a type-safe generic wrapper around Executor.Do for
// operations that produce a value. It eliminates the need for captured
// result variables at call sites.
//
// Usage:
//
//	docs, err := retry.DoWithResult(ex, ctx, "similaritySearch", func() ([]Document, error) {
//	    return svc.Query(ctx, vec, topK)
//	})
func DoWithResult[T any](e *Executor, ctx context.Context, operationName string, fn func() (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, operationName, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
