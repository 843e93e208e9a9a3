// Package probe performs single HTTP liveness checks against service URLs.
package probe

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"nexus/internal/models"
)

const (
	// DefaultTimeout bounds a probe when the caller passes no timeout.
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "Nexus-HealthChecker/1.0"

	// drainLimit caps how much of a response body is read so keep-alive
	// connections can be reused without downloading large pages.
	drainLimit = 4 << 10
)

// Outcome is either Reachable or Unreachable.
type Outcome interface {
	Status() models.HealthStatus
	Latency() time.Duration
	outcome()
}

// Reachable is reported for responses with a 2xx or 3xx status code.
type Reachable struct {
	StatusCode int
	Elapsed    time.Duration
}

// Unreachable is reported for every other result, including transport errors
// and timeouts. StatusCode is zero when no response was received.
type Unreachable struct {
	StatusCode int
	Elapsed    time.Duration
	Err        error
}

func (Reachable) Status() models.HealthStatus { return models.StatusOnline }
func (r Reachable) Latency() time.Duration    { return r.Elapsed }
func (Reachable) outcome()                    {}

func (Unreachable) Status() models.HealthStatus { return models.StatusOffline }
func (u Unreachable) Latency() time.Duration    { return u.Elapsed }
func (Unreachable) outcome()                    {}

// TimedOut reports whether the probe was cut off by its deadline.
func (u Unreachable) TimedOut() bool { return errors.Is(u.Err, context.DeadlineExceeded) }

// Result captures the outcome of a single probe.
type Result struct {
	Target     string
	Outcome    Outcome
	ObservedAt time.Time
}

// LatencyMs returns the measured latency in whole milliseconds.
func (r Result) LatencyMs() int64 {
	if r.Outcome == nil {
		return 0
	}
	return r.Outcome.Latency().Milliseconds()
}

// Prober issues HTTP GET requests with a fixed User-Agent.
type Prober struct {
	client    *http.Client
	userAgent string
}

// New creates a prober. Neither the client nor the dialer carries a timeout
// of its own; each probe is bounded only by the timeout passed to Probe.
func New(userAgent string) *Prober {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Prober{
		client:    &http.Client{Transport: transport},
		userAgent: userAgent,
	}
}

// NewWithClient creates a prober around an existing HTTP client.
func NewWithClient(client *http.Client, userAgent string) *Prober {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Prober{client: client, userAgent: userAgent}
}

// Probe performs one GET against target. It never returns an error: every
// failure mode is folded into an Unreachable outcome.
func (p *Prober) Probe(ctx context.Context, target string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	outcome := p.do(ctx, target, start)
	return Result{
		Target:     target,
		Outcome:    outcome,
		ObservedAt: time.Now().UTC(),
	}
}

func (p *Prober) do(ctx context.Context, target string, start time.Time) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Unreachable{Elapsed: time.Since(start), Err: errors.Wrap(err, "build request")}
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = errors.WithMessage(ctxErr, err.Error())
		}
		return Unreachable{Elapsed: time.Since(start), Err: err}
	}
	elapsed := time.Since(start)
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	_ = resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return Reachable{StatusCode: resp.StatusCode, Elapsed: elapsed}
	}
	return Unreachable{
		StatusCode: resp.StatusCode,
		Elapsed:    elapsed,
		Err:        errors.Errorf("unexpected status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
