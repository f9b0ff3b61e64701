// Package fetch downloads registry documents with per-attempt timeouts, bounded
// retries with exponential backoff, and optional per-host circuit breaking.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenk/backoff"
	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/git-pkgs/outdated/internal/core"
	"github.com/git-pkgs/outdated/metrics"
	"github.com/git-pkgs/outdated/transport"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 1000 * time.Millisecond
	DefaultMaxDelay   = 5000 * time.Millisecond
	DefaultUserAgent  = "outdated"

	maxErrorBody = 1024
)

var tracer = otel.Tracer("github.com/git-pkgs/outdated/fetch")

// Fetcher downloads registry documents.
type Fetcher struct {
	transports      *transport.Resolver
	ownsTransports  bool
	transportConfig transport.Config
	userAgent       string
	maxRetries      int
	timeout         time.Duration
	baseDelay       time.Duration
	maxDelay        time.Duration
	logger          *log.Logger
	metrics         *metrics.Metrics
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTransport sets the transport resolver and the config it applies per URL.
func WithTransport(r *transport.Resolver, cfg transport.Config) Option {
	return func(f *Fetcher) {
		f.transports = r
		f.transportConfig = cfg
	}
}

// WithUserAgent sets the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithMaxRetries sets how many attempts follow the first one.
func WithMaxRetries(n int) Option {
	return func(f *Fetcher) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

// WithTimeout bounds each attempt. Zero disables the per-attempt deadline.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.timeout = d
	}
}

// WithBaseDelay sets the first backoff delay.
func WithBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		f.baseDelay = d
	}
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		f.maxDelay = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// WithMetrics records attempts and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// NewFetcher creates a new Fetcher with the given options.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		userAgent:  DefaultUserAgent,
		maxRetries: DefaultMaxRetries,
		timeout:    DefaultTimeout,
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
		logger:     log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.transports == nil {
		f.transports = transport.NewResolver(transport.WithDNSRefresh(5 * time.Minute))
		f.ownsTransports = true
	}
	return f
}

// Close releases the transport resolver if the fetcher created it.
func (f *Fetcher) Close() {
	if f.ownsTransports {
		f.transports.Close()
	}
}

// Fetch downloads req.URL and returns the response body.
//
// 4xx responses and configuration failures return at once. 5xx responses,
// network failures and attempt timeouts are retried up to the configured
// number of times.
func (f *Fetcher) Fetch(ctx context.Context, req *core.Request) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "fetch "+req.Source, trace.WithAttributes(
		attribute.String("registry.source", req.Source),
		attribute.String("url.full", req.URL),
	))
	defer span.End()

	start := time.Now()
	defer func() { f.metrics.Observe(req.Source, time.Since(start)) }()

	body, attempts, err := f.fetch(ctx, req)
	span.SetAttributes(attribute.Int("fetch.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) fetch(ctx context.Context, req *core.Request) ([]byte, int, error) {
	rt, err := f.transports.RoundTripper(req.URL, f.transportConfig, f.logger)
	if err != nil {
		f.metrics.Attempt(req.Source, "config_error")
		return nil, 0, err
	}
	if rt == nil {
		rt = f.transports.Base()
	}
	client := &http.Client{Transport: rt}

	b := f.newBackOff()
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			delay := b.NextBackOff()
			f.logger.Debug("retrying", "url", req.URL, "attempt", attempt+1, "delay", delay, "err", lastErr)

			select {
			case <-ctx.Done():
				return nil, attempts, withAttempts(&core.ResolveError{URL: req.URL, Err: ctx.Err()}, attempts)
			case <-time.After(delay):
			}
		}

		attempts++
		body, err := f.attempt(ctx, client, req)
		if err == nil {
			f.metrics.Attempt(req.Source, "ok")
			return body, attempts, nil
		}

		lastErr = err
		f.metrics.Attempt(req.Source, outcome(err))

		if ctx.Err() != nil || !Retryable(err) {
			break
		}
	}

	return nil, attempts, withAttempts(lastErr, attempts)
}

func (f *Fetcher) attempt(ctx context.Context, client *http.Client, req *core.Request) ([]byte, error) {
	attemptCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &core.ConfigurationError{Op: "create request", Path: req.URL, Err: err}
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, f.networkError(ctx, attemptCtx, req.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, f.networkError(ctx, attemptCtx, req.URL, err)
		}
		return body, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, &core.RegistryError{
		Source:      req.Source,
		URL:         req.URL,
		StatusCode:  resp.StatusCode,
		Body:        string(body),
		RateLimited: resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0",
	}
}

func (f *Fetcher) networkError(ctx, attemptCtx context.Context, url string, err error) error {
	if ctx.Err() != nil {
		return &core.ResolveError{URL: url, Err: ctx.Err()}
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &core.ResolveError{URL: url, Timeout: true, Err: fmt.Errorf("no response within %s", f.timeout)}
	}
	return &core.ResolveError{URL: url, Err: err}
}

func (f *Fetcher) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     f.baseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         f.maxDelay,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// Retryable reports whether err is a transient failure worth another attempt.
func Retryable(err error) bool {
	var regErr *core.RegistryError
	if errors.As(err, &regErr) {
		return regErr.Retryable()
	}
	if core.IsConfiguration(err) {
		return false
	}
	var resErr *core.ResolveError
	return errors.As(err, &resErr)
}

func outcome(err error) string {
	var regErr *core.RegistryError
	var resErr *core.ResolveError
	switch {
	case errors.As(err, &regErr):
		if regErr.RateLimited {
			return "rate_limited"
		}
		return fmt.Sprintf("status_%dxx", regErr.StatusCode/100)
	case core.IsConfiguration(err):
		return "config_error"
	case errors.As(err, &resErr) && resErr.Timeout:
		return "timeout"
	default:
		return "network_error"
	}
}

func withAttempts(err error, attempts int) error {
	var regErr *core.RegistryError
	var resErr *core.ResolveError
	switch {
	case errors.As(err, &regErr):
		regErr.Attempts = attempts
	case errors.As(err, &resErr):
		resErr.Attempts = attempts
	}
	return err
}
