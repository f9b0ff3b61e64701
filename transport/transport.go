// Package transport derives proxy and TLS settings for registry requests and
// memoizes the HTTP transports that carry them.
package transport

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rs/dnscache"

	"github.com/git-pkgs/outdated/internal/core"
)

// Config is the npmrc-derived transport configuration.
type Config struct {
	Proxy      string
	HTTPSProxy string
	StrictSSL  *bool // nil means true
	CAFile     string
}

// TLSPolicy holds the TLS trust settings for a request.
type TLSPolicy struct {
	RejectUnauthorized bool
	CA                 []byte
}

// Policy is the transport policy for one request URL.
type Policy struct {
	ProxyURL string
	TLS      TLSPolicy
}

// Default reports whether the policy needs nothing beyond the default transport.
func (p Policy) Default() bool {
	return p.ProxyURL == "" && p.TLS.RejectUnauthorized && len(p.TLS.CA) == 0
}

// Key returns the canonical memoization key of the policy.
func (p Policy) Key() string {
	ca := ""
	if len(p.TLS.CA) > 0 {
		sum := sha256.Sum256(p.TLS.CA)
		ca = hex.EncodeToString(sum[:8])
	}
	return fmt.Sprintf("%s|%t|%s", p.ProxyURL, p.TLS.RejectUnauthorized, ca)
}

// Resolver resolves policies and owns the CA-file and transport caches.
// It is safe for concurrent use.
type Resolver struct {
	mu         sync.Mutex
	caFiles    map[string][]byte
	transports map[string]*http.Transport
	base       *http.Transport

	dns      *dnscache.Resolver
	dialer   *net.Dialer
	stop     chan struct{}
	stopOnce sync.Once
	readFile func(string) ([]byte, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithReadFile replaces the function used to read CA bundles.
func WithReadFile(fn func(string) ([]byte, error)) Option {
	return func(r *Resolver) {
		r.readFile = fn
	}
}

// WithDNSRefresh sets how often cached DNS entries are refreshed. Zero disables
// the background refresher.
func WithDNSRefresh(d time.Duration) Option {
	return func(r *Resolver) {
		if d <= 0 {
			return
		}
		go r.refreshDNS(d)
	}
}

// NewResolver creates a Resolver with empty caches.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		caFiles:    make(map[string][]byte),
		transports: make(map[string]*http.Transport),
		dns:        &dnscache.Resolver{},
		dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		},
		stop:     make(chan struct{}),
		readFile: os.ReadFile,
	}
	r.base = r.newTransport(nil, nil)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) refreshDNS(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.dns.Refresh(true)
		case <-r.stop:
			return
		}
	}
}

// Base returns the shared transport used when a policy needs no dispatcher.
func (r *Resolver) Base() http.RoundTripper {
	return r.base
}

// ResolvePolicy derives the proxy and TLS policy for rawURL.
func (r *Resolver) ResolvePolicy(rawURL string, cfg Config) (Policy, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Policy{}, &core.ConfigurationError{Op: "parse request url", Path: rawURL, Err: err}
	}

	policy := Policy{TLS: TLSPolicy{RejectUnauthorized: cfg.StrictSSL == nil || *cfg.StrictSSL}}

	switch u.Scheme {
	case "http":
		policy.ProxyURL = firstNonEmpty(cfg.Proxy, cfg.HTTPSProxy)
	default:
		policy.ProxyURL = firstNonEmpty(cfg.HTTPSProxy, cfg.Proxy)
	}

	if cfg.CAFile != "" {
		ca, err := r.loadCA(cfg.CAFile)
		if err != nil {
			return Policy{}, err
		}
		policy.TLS.CA = ca
	}

	return policy, nil
}

// RoundTripper returns the dispatcher for rawURL, or nil when the policy needs
// no proxy and uses strict TLS with the system roots.
func (r *Resolver) RoundTripper(rawURL string, cfg Config, logger *log.Logger) (http.RoundTripper, error) {
	policy, err := r.ResolvePolicy(rawURL, cfg)
	if err != nil {
		return nil, err
	}
	if policy.Default() {
		return nil, nil
	}

	key := policy.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.transports[key]; ok {
		return t, nil
	}

	var proxy *url.URL
	if policy.ProxyURL != "" {
		proxy, err = url.Parse(policy.ProxyURL)
		if err != nil || proxy.Host == "" {
			if err == nil {
				err = errors.New("missing host")
			}
			return nil, &core.ConfigurationError{Op: "parse proxy url", Path: Redact(policy.ProxyURL), Err: err}
		}
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: !policy.TLS.RejectUnauthorized, //nolint:gosec // strict-ssl=false
	}
	if len(policy.TLS.CA) > 0 {
		pool, _ := x509.SystemCertPool()
		if pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(policy.TLS.CA) {
			return nil, &core.ConfigurationError{Op: "parse ca bundle", Err: errors.New("no certificates found")}
		}
		tlsConfig.RootCAs = pool
	}

	t := r.newTransport(proxy, tlsConfig)
	r.transports[key] = t

	if logger != nil {
		logger.Debug("created dispatcher", "proxy", Redact(policy.ProxyURL),
			"strictSSL", policy.TLS.RejectUnauthorized, "customCA", len(policy.TLS.CA) > 0)
	}
	return t, nil
}

// Close stops the DNS refresher and closes idle connections of every transport.
func (r *Resolver) Close() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.base.CloseIdleConnections()
	for _, t := range r.transports {
		t.CloseIdleConnections()
	}
}

// Len returns the number of memoized dispatchers.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transports)
}

func (r *Resolver) loadCA(path string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ca, ok := r.caFiles[path]; ok {
		return ca, nil
	}
	ca, err := r.readFile(path)
	if err != nil {
		return nil, &core.ConfigurationError{Op: "read ca file", Path: path, Err: err}
	}
	r.caFiles[path] = ca
	return ca, nil
}

func (r *Resolver) newTransport(proxy *url.URL, tlsConfig *tls.Config) *http.Transport {
	t := &http.Transport{
		DialContext:           r.dialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       tlsConfig,
		ForceAttemptHTTP2:     true,
	}
	if proxy != nil {
		t.Proxy = http.ProxyURL(proxy)
	}
	return t
}

func (r *Resolver) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := r.dns.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, ip := range ips {
		conn, err := r.dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses for %s", host)
	}
	return nil, fmt.Errorf("failed to dial any resolved IP: %w", lastErr)
}

// Redact masks the user and password of a proxy URL.
func Redact(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		if i := strings.LastIndex(rawURL, "@"); i >= 0 {
			if j := strings.Index(rawURL, "://"); j >= 0 && j < i {
				return rawURL[:j+3] + "***@" + rawURL[i+1:]
			}
			return "***@" + rawURL[i+1:]
		}
		return rawURL
	}
	// Built by hand: url.URL.String escapes "*" in userinfo.
	mask := "***@"
	if _, hasPassword := u.User.Password(); hasPassword {
		mask = "***:***@"
	}
	rest := u.EscapedPath()
	if u.RawQuery != "" {
		rest += "?" + u.RawQuery
	}
	return u.Scheme + "://" + mask + u.Host + rest
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
