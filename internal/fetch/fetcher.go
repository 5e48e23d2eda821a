// Package fetch retrieves user-supplied URLs after they pass the SSRF guard.
// Connections are pinned to guard-approved addresses and every redirect hop
// is validated again before it is requested.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/mealplanner/importer/internal/common/configtypes"
	"github.com/mealplanner/importer/internal/ssrf"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodySize  = 5 * 1024 * 1024
	DefaultMaxRedirects = 5
	DefaultUserAgent    = "MealPlannerRecipeImporter/1.0"

	acceptHeader = "text/html,application/xhtml+xml,application/ld+json;q=0.9,application/json;q=0.9,*/*;q=0.8"
)

// Guard is the subset of *ssrf.Validator the fetcher depends on.
type Guard interface {
	Validate(ctx context.Context, rawURL string) ssrf.Result
	CheckHost(ctx context.Context, hostname string) ([]netip.Addr, ssrf.Result)
}

// Response is a fully read, decoded response.
type Response struct {
	StatusCode  int
	Body        []byte
	ContentType string
	FinalURL    string
	Redirects   int
}

// Fetcher performs guarded GET requests. It is safe for concurrent use.
type Fetcher struct {
	guard        Guard
	client       *fasthttp.Client
	connect      ConnectFunc
	timeout      time.Duration
	dialTimeout  time.Duration
	maxBodySize  int
	maxRedirects int
	userAgent    string
	logger       *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithConnect replaces the TCP connect step that runs after the guard has
// approved an address.
func WithConnect(fn ConnectFunc) Option {
	return func(f *Fetcher) {
		if fn != nil {
			f.connect = fn
		}
	}
}

// New creates a Fetcher. Zero values in cfg fall back to the package defaults.
func New(guard Guard, cfg configtypes.FetchConfig, logger *zap.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		guard:        guard,
		connect:      fasthttp.DialTimeout,
		timeout:      time.Duration(cfg.Timeout),
		maxBodySize:  cfg.MaxBodySize,
		maxRedirects: cfg.MaxRedirects,
		userAgent:    cfg.UserAgent,
		logger:       logger,
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	if f.maxBodySize <= 0 {
		f.maxBodySize = DefaultMaxBodySize
	}
	if f.maxRedirects <= 0 {
		f.maxRedirects = DefaultMaxRedirects
	}
	if f.userAgent == "" {
		f.userAgent = DefaultUserAgent
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	f.dialTimeout = f.timeout

	for _, opt := range opts {
		opt(f)
	}

	f.client = &fasthttp.Client{
		Name:                     f.userAgent,
		Dial:                     f.guardedDial,
		ReadTimeout:              f.timeout,
		WriteTimeout:             f.timeout,
		MaxResponseBodySize:      f.maxBodySize,
		MaxIdleConnDuration:      30 * time.Second,
		NoDefaultUserAgentHeader: true,
	}
	return f
}

// hop is one request/response exchange.
type hop struct {
	status      int
	location    string
	contentType string
	body        []byte
}

// Fetch validates rawURL and GETs it, following up to the configured number
// of redirects. The whole exchange is bounded by the fetch timeout and by
// ctx, whichever ends first.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	deadline := time.Now().Add(f.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	res := f.guard.Validate(ctx, rawURL)
	if !res.Valid {
		return nil, &BlockedError{URL: rawURL, Result: res}
	}
	current := res.URL

	for redirects := 0; ; redirects++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		h, err := f.do(ctx, current.String(), deadline)
		if err != nil {
			return nil, err
		}

		if !isRedirect(h.status) {
			if h.status < 200 || h.status > 299 {
				return nil, &StatusError{StatusCode: h.status, URL: current.String()}
			}
			return &Response{
				StatusCode:  h.status,
				Body:        h.body,
				ContentType: h.contentType,
				FinalURL:    current.String(),
				Redirects:   redirects,
			}, nil
		}

		if redirects >= f.maxRedirects {
			return nil, fmt.Errorf("%w: more than %d", ErrTooManyRedirects, f.maxRedirects)
		}
		next, err := f.nextHop(ctx, current, h.location)
		if err != nil {
			return nil, err
		}

		f.logger.Debug("Following redirect",
			zap.String("from", current.String()),
			zap.String("to", next.String()),
			zap.Int("status", h.status))
		current = next
	}
}

// nextHop resolves a Location header against the current URL and validates
// the result as if it had been submitted directly.
func (f *Fetcher) nextHop(ctx context.Context, current *url.URL, location string) (*url.URL, error) {
	if location == "" {
		return nil, ErrBadRedirect
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRedirect, err)
	}
	target := current.ResolveReference(ref).String()

	res := f.guard.Validate(ctx, target)
	if !res.Valid {
		f.logger.Warn("Redirect target rejected",
			zap.String("from", current.String()),
			zap.String("to", target),
			zap.String("reason", res.Reason))
		return nil, &BlockedError{URL: target, Result: res}
	}
	return res.URL, nil
}

// do runs one exchange. fasthttp has no context support, so the request runs
// in its own goroutine and is abandoned if ctx ends first.
func (f *Fetcher) do(ctx context.Context, target string, deadline time.Time) (*hop, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	release := func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}

	req.SetRequestURI(target)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetUserAgent(f.userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	done := make(chan error, 1)
	go func() {
		done <- f.client.DoDeadline(req, resp, deadline)
	}()

	select {
	case <-ctx.Done():
		go func() {
			<-done
			release()
		}()
		return nil, ctx.Err()
	case err := <-done:
		defer release()
		if err != nil {
			return nil, f.classifyError(target, err)
		}
		return f.readHop(resp)
	}
}

func (f *Fetcher) readHop(resp *fasthttp.Response) (*hop, error) {
	h := &hop{
		status:      resp.StatusCode(),
		location:    string(resp.Header.Peek(fasthttp.HeaderLocation)),
		contentType: string(resp.Header.ContentType()),
	}
	if isRedirect(h.status) {
		return h, nil
	}

	body, err := decodeBody(resp, f.maxBodySize)
	if err != nil {
		return nil, err
	}
	h.body = body
	return h, nil
}

func (f *Fetcher) classifyError(target string, err error) error {
	var blocked *BlockedError
	switch {
	case errors.As(err, &blocked):
		return blocked
	case errors.Is(err, fasthttp.ErrBodyTooLarge):
		return fmt.Errorf("%w: limit is %d bytes", ErrResponseTooLarge, f.maxBodySize)
	case errors.Is(err, fasthttp.ErrTimeout):
		return fmt.Errorf("fetch %s timed out: %w", target, err)
	default:
		return fmt.Errorf("fetch %s: %w", target, err)
	}
}

func isRedirect(status int) bool {
	switch status {
	case fasthttp.StatusMovedPermanently,
		fasthttp.StatusFound,
		fasthttp.StatusSeeOther,
		fasthttp.StatusTemporaryRedirect,
		fasthttp.StatusPermanentRedirect:
		return true
	}
	return false
}
