// Package pacer is the retry/backoff primitive every driver's read and
// write paths run through, grounded on the teacher's lib/pacer: a
// Pacer wrapping a function that returns (shouldRetry bool, err error),
// sleeping an exponentially-decaying interval between attempts (see
// backend/webdav's "pacer.New().SetMinSleep(minSleep).SetMaxSleep(maxSleep)
// .SetDecayConstant(decayConstant)" and its repeated
// "f.pacer.Call(func() (bool, error) {...})" call sites).
package pacer

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Paced is the function a caller hands to Call/CallNoRetry: it performs
// one attempt and reports whether the pacer should retry.
type Paced func() (retry bool, err error)

// Pacer runs a Paced function, retrying with backoff until it
// succeeds, exhausts its retry budget, or is told not to retry.
type Pacer struct {
	minSleep      time.Duration
	maxSleep      time.Duration
	decayConstant uint
	retries       int
	sleepTime     time.Duration
}

// New builds a Pacer with sane defaults (10ms..2s, decay 2, 4 retries,
// matching spec.md §4.4.5's default retry attempt count).
func New() *Pacer {
	return &Pacer{
		minSleep:      10 * time.Millisecond,
		maxSleep:      2 * time.Second,
		decayConstant: 2,
		retries:       4,
	}
}

func (p *Pacer) SetMinSleep(d time.Duration) *Pacer { p.minSleep = d; p.sleepTime = d; return p }
func (p *Pacer) SetMaxSleep(d time.Duration) *Pacer { p.maxSleep = d; return p }
func (p *Pacer) SetDecayConstant(c uint) *Pacer      { p.decayConstant = c; return p }
func (p *Pacer) SetRetries(n int) *Pacer             { p.retries = n; return p }

// Call runs fn, retrying on (true, err) results up to the configured
// retry budget, sleeping an exponentially growing, jittered interval
// between attempts.
func (p *Pacer) Call(fn Paced) error {
	var err error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(p.nextSleep())
		}
		var retry bool
		retry, err = fn()
		if !retry {
			return err
		}
	}
	return err
}

// CallNoRetry runs fn exactly once — used on write paths that must
// never retry on network error or 5xx to avoid double execution
// (spec.md §4.4.5), but which still want a uniform call shape.
func (p *Pacer) CallNoRetry(fn Paced) error {
	_, err := fn()
	return err
}

func (p *Pacer) nextSleep() time.Duration {
	if p.sleepTime < p.minSleep {
		p.sleepTime = p.minSleep
	}
	sleep := p.sleepTime
	// jitter +/- 50% so concurrent callers don't retry in lockstep
	jitter := time.Duration(rand.Int63n(int64(sleep))) - sleep/2 //nolint:gosec
	next := sleep*time.Duration(p.decayConstant) + jitter
	if next > p.maxSleep {
		next = p.maxSleep
	}
	p.sleepTime = next
	return sleep
}

// RetryAfter computes how long to wait before the next attempt from an
// HTTP response, applying the precedence spec.md §5 mandates:
// Retry-After header (seconds) first, then a body-reported retry_after
// (provider-specific fractional seconds, passed in by the caller since
// the body shape is backend-specific), then X-RateLimit-Reset /
// reset-after, then the fallback duration.
func RetryAfter(resp *http.Response, bodyRetryAfterSeconds float64, fallback time.Duration) time.Duration {
	if resp != nil {
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				return time.Duration(secs) * time.Second
			}
			if when, err := http.ParseTime(v); err == nil {
				if d := time.Until(when); d > 0 {
					return d
				}
			}
		}
	}
	if bodyRetryAfterSeconds > 0 {
		return time.Duration(bodyRetryAfterSeconds * float64(time.Second))
	}
	if resp != nil {
		if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
			if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
				when := time.Unix(secs, 0)
				if d := time.Until(when); d > 0 {
					return d
				}
			}
		}
		if v := resp.Header.Get("X-RateLimit-Reset-After"); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	return fallback
}

// ShouldRetryHTTP reports whether the response's status code is one of
// the codes this call considers retryable.
func ShouldRetryHTTP(resp *http.Response, retriable []int) bool {
	if resp == nil {
		return false
	}
	for _, code := range retriable {
		if resp.StatusCode == code {
			return true
		}
	}
	return false
}

// ShouldRetryError reports whether a failed call is worth retrying:
// every non-nil error is, unless ctx is already done. It does not
// inspect err itself.
func ShouldRetryError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	return true
}

// DefaultRetryStatusCodes are the status codes every driver in this
// module retries on for GETs (spec.md §4.4.5).
var DefaultRetryStatusCodes = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}
