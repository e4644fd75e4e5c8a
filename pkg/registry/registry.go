package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"depres/pkg/log"
	"depres/pkg/metrics"
)

const UserAgent = "depres/0.1.0 (Maven dependency resolver)"

const DefaultRepositoryURL = "https://repo1.maven.org/maven2"

var (
	// ErrNotFound is returned for a 404; it is an answer, not a failure.
	ErrNotFound = errors.New("not found")
	// ErrUnreachable marks transport failures that survived all retries or hit an open breaker.
	ErrUnreachable = errors.New("unable to reach repository")
	// ErrBreakerOpen is wrapped together with ErrUnreachable when a request was not sent because
	// its host failed too often.
	ErrBreakerOpen = errors.New("requests to host paused after repeated failures")
)

// StatusError is an unexpected HTTP status other than 404.
type StatusError struct {
	URL    string
	Status string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response %s from %s", e.Status, e.URL)
}

// ContentLengthError reports a body shorter or longer than its Content-Length header.
type ContentLengthError struct {
	URL      string
	Expected int64
	Actual   int64
}

func (e *ContentLengthError) Error() string {
	return fmt.Sprintf("content length of %s doesn't match: expected %d, got %d", e.URL, e.Expected, e.Actual)
}

// Repository is a remote Maven repository, optionally behind Basic auth.
type Repository struct {
	URL      string `toml:"url" yaml:"url" json:"url"`
	Username string `toml:"username,omitempty" yaml:"username,omitempty" json:"username,omitempty"`
	Password string `toml:"password,omitempty" yaml:"password,omitempty" json:"-"`
}

func (r Repository) String() string {
	return r.URL
}

// FileURL joins the repository base with a layout-relative path.
func (r Repository) FileURL(path string) string {
	return strings.TrimSuffix(r.URL, "/") + "/" + strings.TrimPrefix(path, "/")
}

func (r Repository) host() string {
	u, err := url.Parse(r.URL)
	if err != nil || u.Host == "" {
		return r.URL
	}
	return u.Host
}

type Options struct {
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	// Retries counts attempts after the first one, for I/O failures only.
	Retries int
	// RequestsPerSecond of zero disables pacing.
	RequestsPerSecond float64
	// BreakerFailures is the number of consecutive transport failures that open a host's breaker.
	BreakerFailures uint32
}

func DefaultOptions() Options {
	return Options{
		RequestTimeout:  60 * time.Second,
		ConnectTimeout:  10 * time.Second,
		Retries:         3,
		BreakerFailures: 5,
	}
}

// Sink receives the body of a successful response. A retry calls it again, so it has to drop
// whatever an earlier attempt wrote.
type Sink func(contentLength int64) (io.Writer, error)

// Client fetches files from remote repositories.
type Client struct {
	http    *http.Client
	owned   bool
	opts    Options
	limiter *rate.Limiter

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewClient creates a client with its own transport; Close releases it.
func NewClient(opts Options) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = opts.ConnectTimeout
	transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	c := newClient(&http.Client{Transport: transport, Timeout: opts.RequestTimeout}, opts)
	c.owned = true
	return c
}

// NewClientWith wraps a caller-owned http.Client; Close leaves it alone.
func NewClientWith(httpClient *http.Client, opts Options) *Client {
	return newClient(httpClient, opts)
}

func newClient(httpClient *http.Client, opts Options) *Client {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = DefaultOptions().BreakerFailures
	}
	return &Client{
		http:     httpClient,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (c *Client) Close() error {
	if c.owned {
		c.http.CloseIdleConnections()
	}
	return nil
}

// breaker returns the circuit breaker of the repository host. It is shared by every request of
// the client: once BreakerFailures consecutive transport failures trip it, later requests to the
// host fail with ErrBreakerOpen without being sent, until the breaker half-opens 30s later.
func (c *Client) breaker(repo Repository) *gobreaker.CircuitBreaker {
	host := repo.host()
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[host]; ok {
		return b
	}
	failures := c.opts.BreakerFailures
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     host,
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Repository circuit breaker changed state", map[string]interface{}{
				"host": name,
				"from": from.String(),
				"to":   to.String(),
			})
		},
	})
	c.breakers[host] = b
	return b
}

// Download streams path from repo into the writer returned by sink and returns the number of
// bytes written. A 404 yields ErrNotFound.
func (c *Client) Download(ctx context.Context, repo Repository, path string, sink Sink) (int64, error) {
	fileURL := repo.FileURL(path)
	breaker := c.breaker(repo)
	var written int64

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		_, err := breaker.Execute(func() (interface{}, error) {
			n, err := c.fetch(ctx, repo, fileURL, sink)
			written = n
			return nil, err
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(fmt.Errorf("%w %s: %w (%v)", ErrUnreachable, fileURL, ErrBreakerOpen, err))
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case isTransient(err):
			log.Debug("Retrying request", map[string]interface{}{"url": fileURL, "error": err.Error()})
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.opts.Retries)), ctx))
	if err != nil && ctx.Err() == nil && isTransient(err) {
		return 0, fmt.Errorf("%w %s: %v", ErrUnreachable, fileURL, err)
	}
	return written, err
}

// Get reads a small file such as a checksum or metadata document into memory.
func (c *Client) Get(ctx context.Context, repo Repository, path string) ([]byte, error) {
	var buf strings.Builder
	_, err := c.Download(ctx, repo, path, func(int64) (io.Writer, error) {
		buf.Reset()
		return &buf, nil
	})
	if err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

func (c *Client) fetch(ctx context.Context, repo Repository, fileURL string, sink Sink) (int64, error) {
	host := repo.host()
	log.Debug("Sending request to repository", map[string]interface{}{"url": fileURL})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", UserAgent)
	if repo.Username != "" && repo.Password != "" {
		req.SetBasicAuth(repo.Username, repo.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.HTTPRequest(host, "error")
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.HTTPRequest(host, "not_found")
		log.Trace("File not found in repository", map[string]interface{}{"url": fileURL})
		return 0, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		metrics.HTTPRequest(host, "status")
		return 0, &StatusError{URL: fileURL, Status: resp.Status, Code: resp.StatusCode}
	}

	w, err := sink(resp.ContentLength)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, resp.Body)
	metrics.DownloadedBytes(n)
	if err != nil {
		metrics.HTTPRequest(host, "error")
		return n, err
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		metrics.HTTPRequest(host, "error")
		return n, &ContentLengthError{URL: fileURL, Expected: resp.ContentLength, Actual: n}
	}
	metrics.HTTPRequest(host, "ok")
	return n, nil
}

// isTransient reports I/O-class failures, the only ones worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	var lengthErr *ContentLengthError
	switch {
	case errors.Is(err, ErrNotFound), errors.As(err, &statusErr), errors.As(err, &lengthErr):
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	var netErr net.Error
	var urlErr *url.Error
	return errors.As(err, &netErr) || errors.As(err, &urlErr)
}
