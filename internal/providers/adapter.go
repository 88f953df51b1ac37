// Package providers implements a uniform adapter contract:
// one Go type per external modality (LLM, image, critic, TTS, SFX/music,
// motion), each wrapping retry/backoff, error classification, rate
// limiting, and elapsed-time accounting around a concrete HTTP or SDK
// client. VeoMotion is the exception: it calls the genai SDK directly,
// with no Adapter retry, rate limiting or metrics. Adapters never mutate
// ProjectState.
package providers

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// ErrorKind is the error taxonomy every adapter normalizes its failures into.
type ErrorKind string

const (
	KindRetryable    ErrorKind = "retryable"
	KindPermanent    ErrorKind = "permanent"
	KindQuota        ErrorKind = "quota"
	KindInvalidInput ErrorKind = "invalid_input"
)

// ProviderError is the error type every adapter returns so callers can
// branch with errors.As instead of matching strings.
type ProviderError struct {
	Kind        ErrorKind
	Provider    string
	UpstreamErr error
	Code        int // HTTP status or provider-specific code, 0 if n/a
}

func (e *ProviderError) Error() string {
	if e.UpstreamErr != nil {
		return fmt.Sprintf("%s: %s (code=%d): %v", e.Provider, e.Kind, e.Code, e.UpstreamErr)
	}
	return fmt.Sprintf("%s: %s (code=%d)", e.Provider, e.Kind, e.Code)
}

func (e *ProviderError) Unwrap() error { return e.UpstreamErr }

// ClassifyHTTPStatus maps an HTTP status code to an ErrorKind the same way
// every REST adapter in this pipeline treats 429/5xx as retryable and 4xx as
// permanent, with 429 promoted to quota.
func ClassifyHTTPStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindQuota
	case status >= 500:
		return KindRetryable
	case status >= 400:
		return KindPermanent
	default:
		return KindRetryable
	}
}

// RetryPolicy configures exponential backoff with jitter, used uniformly
// by every adapter (grounded on the Supabase storage client's retry loop:
// base*2^attempt, capped, plus up to 25% jitter).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    10 * time.Second,
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(1<<uint(attempt))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 4))
	return d + jitter
}

// Metrics are the provider-wide Prometheus collectors for elapsed-time
// accounting: a call-duration histogram and a call counter, both labelled
// by provider and outcome.
type Metrics struct {
	CallDuration *prometheus.HistogramVec
	CallTotal    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reelforge_provider_call_duration_seconds",
			Help:    "Elapsed time of provider adapter calls.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"provider", "outcome"}),
		CallTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reelforge_provider_calls_total",
			Help: "Count of provider adapter calls by outcome.",
		}, []string{"provider", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.CallDuration, m.CallTotal)
	}
	return m
}

func (m *Metrics) observe(provider string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.CallDuration.WithLabelValues(provider, outcome).Observe(time.Since(start).Seconds())
	m.CallTotal.WithLabelValues(provider, outcome).Inc()
}

// Adapter is the shared retry/rate-limit/metrics scaffolding every concrete
// provider embeds. It is not itself a modality contract — LLM, Image,
// Critic, TTS, SFX and Motion each define their own interface in this
// package and are implemented in terms of an *Adapter, except VeoMotion,
// which embeds none.
type Adapter struct {
	Name    string
	Policy  RetryPolicy
	Limiter *rate.Limiter
	Metrics *Metrics
}

// NewAdapter builds the common scaffolding for a provider named `name`,
// rate limited to ratePerSec sustained calls with a burst of burst.
func NewAdapter(name string, ratePerSec float64, burst int, metrics *Metrics) *Adapter {
	return &Adapter{
		Name:    name,
		Policy:  DefaultRetryPolicy,
		Limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		Metrics: metrics,
	}
}

// Call runs fn with retry/backoff, rate limiting, and elapsed-time
// accounting. fn must return a *ProviderError (or wrap one) on failure so
// Call can decide whether to retry.
func (a *Adapter) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < a.Policy.MaxAttempts; attempt++ {
		if err := a.Limiter.Wait(ctx); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			a.Metrics.observe(a.Name, start, nil)
			return nil
		}
		var perr *ProviderError
		if !errors.As(lastErr, &perr) || perr.Kind == KindPermanent || perr.Kind == KindInvalidInput {
			break
		}
		if attempt == a.Policy.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			a.Metrics.observe(a.Name, start, ctx.Err())
			return ctx.Err()
		case <-time.After(a.Policy.delay(attempt)):
		}
	}
	a.Metrics.observe(a.Name, start, lastErr)
	return lastErr
}
