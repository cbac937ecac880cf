// Package fetch implements C4: turning a resolved module URL into its
// source bytes, dispatching by scheme, enforcing permissions, detecting
// media type, and retrying transient network failures with backoff.
// http(s) fetches are funneled through C3 (internal/httpcache) for
// caching and through a semaphore that bounds overall concurrency
// (spec.md §5: "default 64").
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/x509roots/fallback"
	"golang.org/x/net/http2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"go.modpipe.dev/modpipe/internal/httpcache"
	"go.modpipe.dev/modpipe/lib/consts"
	"go.modpipe.dev/modpipe/lib/fsext"
)

// PerHostRateLimit bounds how many requests per second this process
// issues to any single origin (spec.md §5: fetches are bounded overall by
// concurrency, and per-origin to avoid tripping registries' own abuse
// detection).
const PerHostRateLimit = 10

// DefaultConcurrency is the default fetch semaphore weight (spec.md §5).
const DefaultConcurrency = 64

// PermissionDeniedError is returned when a fetch is attempted against a
// host or path the caller hasn't authorized (spec.md §4.4 step 1).
type PermissionDeniedError struct {
	URL *url.URL
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("fetch: permission denied for %s", e.URL)
}

// HTTPStatusError is returned when a remote fetch gets a 4xx response
// (at once, without retrying) or a 5xx response on its one retry
// (spec.md §4.4.4).
type HTTPStatusError struct {
	URL        *url.URL
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetch: %s responded %d", e.URL, e.StatusCode)
}

// Permissions decides whether a fetch of u is authorized. New uses
// AllowAll when none is given ("no restrictions configured" is the default).
type Permissions interface {
	AllowNet(host string) bool
	AllowRead(path string) bool
}

// AllowAll is the permissive Permissions used when the CLI hasn't been
// given an allow-list.
type AllowAll struct{}

func (AllowAll) AllowNet(string) bool  { return true }
func (AllowAll) AllowRead(string) bool { return true }

// SourceFileRecord is the result of a successful fetch (spec.md §4.4's
// public contract).
type SourceFileRecord struct {
	URL       *url.URL
	Data      []byte
	MediaType MediaType
	// TypesURL is the companion types URL an X-TypeScript-Types response
	// header points at, if any (spec.md §4.4.3).
	TypesURL *url.URL
}

// Fetcher implements C4 over a local filesystem (for file: specifiers)
// and an HTTP client + C3 cache (for http(s): specifiers).
type Fetcher struct {
	fs          fsext.Fs
	httpClient  *http.Client
	cache       *httpcache.Cache
	permissions Permissions
	sem         *semaphore.Weighted

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithPermissions overrides the default permissive Permissions.
func WithPermissions(p Permissions) Option {
	return func(f *Fetcher) { f.permissions = p }
}

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int64) Option {
	return func(f *Fetcher) { f.sem = semaphore.NewWeighted(n) }
}

// WithHTTPClient overrides the HTTP client used for remote fetches,
// mainly for tests that need to point at an httptest server without TLS
// verification.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.httpClient = c }
}

// New builds a Fetcher. fs serves file: specifiers; cache serves
// http(s): specifiers via C3.
func New(fs fsext.Fs, cache *httpcache.Cache, opts ...Option) *Fetcher {
	f := &Fetcher{
		fs:          fs,
		cache:       cache,
		permissions: AllowAll{},
		sem:         semaphore.NewWeighted(DefaultConcurrency),
		httpClient:  &http.Client{Timeout: 30 * time.Second, Transport: defaultTransport()},
		limiters:    make(map[string]*rate.Limiter),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// defaultTransport carries the Mozilla CA bundle embedded by
// x509roots/fallback, so fetches against registries succeed even on a
// scratch/distroless image that ships no system trust store of its own.
func defaultTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = &tls.Config{RootCAs: fallback.Roots}
	// Registries are typically fronted by a CDN that prefers HTTP/2;
	// configuring it explicitly avoids relying on ALPN negotiation alone.
	_ = http2.ConfigureTransport(t)
	return t
}

// limiterFor returns the per-host rate.Limiter for host, creating it on
// first use.
func (f *Fetcher) limiterFor(host string) *rate.Limiter {
	f.limiterMu.Lock()
	defer f.limiterMu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(PerHostRateLimit), PerHostRateLimit)
		f.limiters[host] = l
	}
	return l
}

// Fetch implements the C4 contract: resolve u's bytes, dispatching by
// scheme, subject to Permissions and (for http(s)) the reload policy and
// retry/backoff budget.
func (f *Fetcher) Fetch(ctx context.Context, u *url.URL, policy httpcache.Policy, specifier string) (*SourceFileRecord, error) {
	switch u.Scheme {
	case "file":
		return f.fetchFile(u)
	case "https", "http":
		return f.fetchHTTP(ctx, u, policy, specifier)
	default:
		return nil, fmt.Errorf("fetch: unsupported scheme %q", u.Scheme)
	}
}

func (f *Fetcher) fetchFile(u *url.URL) (*SourceFileRecord, error) {
	if !f.permissions.AllowRead(u.Path) {
		return nil, &PermissionDeniedError{URL: u}
	}
	data, err := fsext.ReadFile(f.fs, u.Path)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading %s: %w", u.Path, err)
	}
	return &SourceFileRecord{
		URL:       u,
		Data:      data,
		MediaType: DetectMediaType("", u.Path),
	}, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, u *url.URL, policy httpcache.Policy, specifier string) (*SourceFileRecord, error) {
	if !f.permissions.AllowNet(u.Hostname()) {
		return nil, &PermissionDeniedError{URL: u}
	}

	if !policy.ShouldFetch(specifier) {
		if entry, ok, err := f.cache.Lookup(u); err != nil {
			return nil, err
		} else if ok {
			return &SourceFileRecord{
				URL:       entry.FinalURL,
				Data:      entry.Body,
				MediaType: DetectMediaType(entry.Meta.MimeType, entry.FinalURL.Path),
				TypesURL:  typesURLFromHeaders(entry.Meta.Headers, entry.FinalURL),
			}, nil
		}
	}

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.sem.Release(1)

	return f.fetchAndCache(ctx, u)
}

// fetchAndCache performs the GET, follows redirects itself (rather than
// trusting net/http's transport-level redirect handling) so each hop can
// be recorded in C3 as its own metadata-only entry, then retries
// transient failures with exponential backoff (spec.md §4.4.4).
func (f *Fetcher) fetchAndCache(ctx context.Context, start *url.URL) (*SourceFileRecord, error) {
	cur := start
	var hops []*url.URL

	for i := 0; ; i++ {
		if i >= httpcache.MaxRedirects {
			return nil, &httpcache.RedirectLoopError{URL: cur}
		}

		resp, body, err := f.getWithRetry(ctx, cur)
		if err != nil {
			return nil, err
		}

		if loc := resp.Header.Get("Location"); resp.StatusCode >= 300 && resp.StatusCode < 400 && loc != "" {
			next, err := cur.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("fetch: bad redirect Location from %s: %w", cur, err)
			}
			if err := f.cache.PutRedirect(cur, next); err != nil {
				return nil, err
			}
			hops = append(hops, cur)
			cur = next
			continue
		}

		if resp.StatusCode >= 400 {
			return nil, &HTTPStatusError{URL: cur, StatusCode: resp.StatusCode}
		}

		mimeType := resp.Header.Get("Content-Type")
		headers := map[string]string{}
		if tt := resp.Header.Get("X-TypeScript-Types"); tt != "" {
			headers["x-typescript-types"] = tt
		}
		if err := f.cache.PutFinal(cur, body, mimeType, headers); err != nil {
			return nil, err
		}

		return &SourceFileRecord{
			URL:       cur,
			Data:      body,
			MediaType: DetectMediaType(mimeType, cur.Path),
			TypesURL:  typesURLFromHeaders(headers, cur),
		}, nil
	}
}

// getWithRetry issues one GET (following no redirects — the caller
// walks the chain manually) with the retry budget from spec.md §4.4.4:
// transient errors retry up to 3 attempts with exponential backoff; a
// 5xx response retries once; a 4xx is fatal and not retried.
func (f *Fetcher) getWithRetry(ctx context.Context, u *url.URL) (*http.Response, []byte, error) {
	client := *f.httpClient
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	var resp *http.Response
	var body []byte
	attempt := 0
	retriedServerError := false

	op := func() error {
		attempt++
		if err := f.limiterFor(u.Hostname()).Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", consts.UserAgent())

		r, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err // transient: retry
		}

		if r.StatusCode >= 400 && r.StatusCode < 500 {
			defer r.Body.Close()
			return backoff.Permanent(&HTTPStatusError{URL: u, StatusCode: r.StatusCode})
		}
		if r.StatusCode >= 500 {
			defer r.Body.Close()
			if retriedServerError {
				return backoff.Permanent(&HTTPStatusError{URL: u, StatusCode: r.StatusCode})
			}
			retriedServerError = true
			return errors.New("server error, retrying once")
		}

		data, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return err // transient: retry
		}
		resp, body = r, data
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func typesURLFromHeaders(headers map[string]string, referrer *url.URL) *url.URL {
	v, ok := headers["x-typescript-types"]
	if !ok || v == "" {
		return nil
	}
	u, err := referrer.Parse(v)
	if err != nil {
		return nil
	}
	return u
}
