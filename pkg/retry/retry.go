// Package retry wraps upstream provider calls (LLM and search) in a
// classify / verify / postprocess / backoff loop, accumulating token usage
// across every attempt including the failed ones.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/caster-net/caster/pkg/models"
)

// Policy configures the retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// BaseBackoff is the delay before the first retry.
	BaseBackoff time.Duration
	// MaxBackoff caps the computed delay.
	MaxBackoff time.Duration
	// BackoffFactor is the multiplier applied per attempt (2.0 = exponential).
	BackoffFactor float64
	// Jitter adds ±Jitter fraction of randomness to each delay.
	Jitter float64
}

// DefaultPolicy returns the policy used when configuration does not
// override it.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		BaseBackoff:   250 * time.Millisecond,
		MaxBackoff:    10 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        0.1,
	}
}

// Check is the outcome of a verify or postprocess hook.
type Check struct {
	OK        bool
	Retryable bool
	Reason    string
}

// Pass returns a successful check.
func Pass() Check { return Check{OK: true} }

// Fail returns a failed check with the given retryability and reason.
func Fail(retryable bool, reason string) Check {
	return Check{OK: false, Retryable: retryable, Reason: reason}
}

// HTTPStatusError carries an upstream HTTP status for classification.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// ExhaustedError is returned when an upstream call fails fatally or all
// attempts are spent. Reason concatenates the per-attempt failure reasons.
type ExhaustedError struct {
	Attempts      int
	TotalDuration time.Duration
	Reason        string
	LastErr       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("upstream call failed after %d attempt(s) over %v: %s",
		e.Attempts, e.TotalDuration.Round(time.Millisecond), e.Reason)
}

// Unwrap returns the last attempt's error, which may be nil when the final
// failure came from a verify or postprocess hook.
func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// Classify is the default exception classifier: HTTP 408/409/429 and ≥500
// are retryable, other 4xx are fatal, transport errors are retryable,
// cancellation is never retryable.
func Classify(err error) (bool, string) {
	if err == nil {
		return false, ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, "cancelled"
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		code := httpErr.StatusCode
		switch {
		case code == http.StatusRequestTimeout,
			code == http.StatusConflict,
			code == http.StatusTooManyRequests,
			code >= 500:
			return true, fmt.Sprintf("retryable status %d", code)
		case code >= 400:
			return false, fmt.Sprintf("fatal status %d", code)
		}
	}

	// Network and transport failures are retryable by default.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true, fmt.Sprintf("network error: %v", netErr)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true, fmt.Sprintf("dns error: %v", dnsErr)
	}

	return true, err.Error()
}

// Op describes one retryable upstream operation. Call is required; the
// remaining hooks are optional.
type Op[T any] struct {
	// Call performs the upstream request.
	Call func(ctx context.Context) (T, error)
	// Classify overrides the default exception classifier.
	Classify func(err error) (retryable bool, reason string)
	// Verify inspects a transport-level success (e.g. "choices non-empty").
	Verify func(resp T) Check
	// Postprocess validates and transforms a verified response (e.g.
	// structured-JSON parsing). The returned value replaces the response.
	Postprocess func(resp T) (T, Check)
	// Usage extracts the attempt's token usage so failed attempts still
	// count toward the aggregate.
	Usage func(resp T) models.LLMCallUsage
}

// Run executes op under the policy. The returned usage is the fieldwise sum
// over all attempts. Cancellation of ctx surfaces promptly and is never
// treated as retryable.
func Run[T any](ctx context.Context, p Policy, op Op[T]) (T, models.LLMCallUsage, error) {
	var zero T
	var usage models.LLMCallUsage

	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	classify := op.Classify
	if classify == nil {
		classify = Classify
	}

	start := time.Now()
	var reasons []string
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		resp, err := op.Call(ctx)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, usage, fmt.Errorf("upstream call cancelled: %w", ctxErr)
			}
			lastErr = err
			retryable, reason := classify(err)
			reasons = append(reasons, fmt.Sprintf("attempt %d: %s", attempt+1, reason))
			if !retryable || attempt+1 >= p.MaxAttempts {
				return zero, usage, exhausted(attempt+1, start, reasons, lastErr)
			}
			if err := sleep(ctx, backoff(p, attempt)); err != nil {
				return zero, usage, err
			}
			continue
		}

		// Usage counts for every attempt, verified or not.
		if op.Usage != nil {
			usage = usage.Add(op.Usage(resp))
		}

		check := Pass()
		if op.Verify != nil {
			check = op.Verify(resp)
		}
		if check.OK && op.Postprocess != nil {
			resp, check = op.Postprocess(resp)
		}
		if check.OK {
			return resp, usage, nil
		}

		lastErr = nil
		reasons = append(reasons, fmt.Sprintf("attempt %d: %s", attempt+1, check.Reason))
		if !check.Retryable || attempt+1 >= p.MaxAttempts {
			return zero, usage, exhausted(attempt+1, start, reasons, errors.New(check.Reason))
		}
		if err := sleep(ctx, backoff(p, attempt)); err != nil {
			return zero, usage, err
		}
	}

	return zero, usage, exhausted(p.MaxAttempts, start, reasons, lastErr)
}

func exhausted(attempts int, start time.Time, reasons []string, lastErr error) *ExhaustedError {
	return &ExhaustedError{
		Attempts:      attempts,
		TotalDuration: time.Since(start),
		Reason:        strings.Join(reasons, "; "),
		LastErr:       lastErr,
	}
}

// backoff computes base * factor^attempt ± jitter, capped at MaxBackoff.
func backoff(p Policy, attempt int) time.Duration {
	d := float64(p.BaseBackoff) * math.Pow(p.BackoffFactor, float64(attempt))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// sleep waits for the delay or the context, whichever ends first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
