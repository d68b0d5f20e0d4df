package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelops/kestrel/pkg/llm"
)

// Retry policy for provider failures: two retries with fixed backoff, then
// the run fails as model_unavailable.
var retryBackoffs = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond}

// completeWithRetry calls the model, retrying transport failures per the
// platform policy. Context cancellation is never retried.
func completeWithRetry(ctx context.Context, client llm.ChatCompleter, req llm.Request) (*llm.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= len(retryBackoffs); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoffs[attempt-1]):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		resp, err := client.ChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", llm.ErrModelUnavailable, lastErr)
}
