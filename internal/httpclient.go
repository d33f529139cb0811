package internal

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// NewRetryingClient builds the shared outbound HTTP client. Both the Asana
// client and the Sheets service go through it, so 429/5xx/transport failures
// are retried in one place instead of per call site. Retry-After is honored
// when the upstream sends one; otherwise the delay grows exponentially from
// the base with up to 25% jitter added on top.
func NewRetryingClient(cfg RetryConfig, logger *log.Logger) *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxAttempts - 1
	if client.RetryMax < 0 {
		client.RetryMax = 0
	}
	client.RetryWaitMin = time.Duration(cfg.BaseDelayMS) * time.Millisecond
	client.RetryWaitMax = time.Duration(cfg.MaxDelayMS) * time.Millisecond
	client.Logger = nil
	client.Backoff = jitteredBackoff
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		// 4xx other than 429 are persistent; hand them straight back.
		if err == nil && resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	if logger != nil {
		client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			if attempt > 0 {
				logger.Printf("retrying %s %s (attempt %d)", req.Method, req.URL.Path, attempt+1)
			}
		}
	}
	return client.StandardClient()
}

func jitteredBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	wait := retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	jitter := time.Duration(rand.Int63n(int64(wait)/4 + 1))
	if wait+jitter > max {
		return max
	}
	return wait + jitter
}
