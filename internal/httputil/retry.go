// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared by the download stages.
package httputil

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryBaseDelay controls the first backoff interval on HTTP 429/503
// responses. Tests override this to avoid real sleeps.
var RetryBaseDelay = 2 * time.Second

// maxRetryAfter caps a server-provided Retry-After value.
const maxRetryAfter = 2 * time.Minute

const defaultMaxRetries = 3

// Retryable reports whether an HTTP status is worth retrying before the
// response body has been consumed.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// DoWithRetry executes an HTTP request and retries on HTTP 429 (Too Many
// Requests) and 503 (Service Unavailable) with exponential backoff starting
// at RetryBaseDelay and doubling each attempt. A Retry-After header given in
// seconds takes precedence over the computed delay.
//
// When maxRetries is 0 the default (3) is used. On each retry the response
// body is drained and closed before sleeping. If the context is cancelled
// during a backoff wait the function returns ctx.Err(). After exhausting
// retries the last response is returned so the caller can inspect it.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, maxRetries int) (*http.Response, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = RetryBaseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = 64 * RetryBaseDelay
	policy.MaxElapsedTime = 0
	policy.Reset()

	for attempt := 0; ; attempt++ {
		resp, err := client.Do(req.Clone(ctx))
		if err != nil {
			return nil, err
		}

		if !Retryable(resp.StatusCode) || attempt >= maxRetries {
			return resp, nil
		}

		wait := policy.NextBackOff()
		if ra := retryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			wait = ra
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}
