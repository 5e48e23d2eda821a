// Package ssrf decides whether a user-supplied URL is safe to fetch from the
// server. Every call re-resolves DNS; nothing is cached between calls.
package ssrf

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/mealplanner/importer/internal/common/configtypes"
)

// Rule names the check that rejected a URL.
type Rule string

const (
	RuleNone            Rule = ""
	RuleMalformedURL    Rule = "malformed_url"
	RuleProtocol        Rule = "protocol"
	RuleBlockedHostname Rule = "blocked_hostname"
	RuleBlockedIP       Rule = "blocked_ip"
	RuleResolution      Rule = "resolution"
)

// DefaultResolveTimeout bounds A+AAAA resolution when the caller's context
// has no earlier deadline.
const DefaultResolveTimeout = 5 * time.Second

// Result is the outcome of a validation. Reason is set iff Valid is false,
// URL is set iff Valid is true.
type Result struct {
	Valid  bool
	Reason string
	URL    *url.URL

	Rule     Rule   // rejecting rule, empty when valid
	Category string // blocked range name for RuleBlockedIP
}

// Validator validates outbound URLs. It is safe for concurrent use.
type Validator struct {
	resolver       Resolver
	blocked        hostnameSet
	resolveTimeout time.Duration
	logger         *zap.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithResolver replaces the DNS resolver, typically with a fake in tests.
func WithResolver(r Resolver) Option {
	return func(v *Validator) {
		if r != nil {
			v.resolver = r
		}
	}
}

// WithBlockedHostnames adds hostnames to the built-in denylist.
func WithBlockedHostnames(hosts []string) Option {
	return func(v *Validator) {
		v.blocked = newHostnameSet(hosts)
	}
}

// WithResolveTimeout sets the resolution bound. Zero disables it.
func WithResolveTimeout(d time.Duration) Option {
	return func(v *Validator) {
		v.resolveTimeout = d
	}
}

// WithLogger sets the logger used for rejection debug logs.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator creates a Validator using the system resolver by default.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		resolver:       NewNetResolver(),
		blocked:        newHostnameSet(nil),
		resolveTimeout: DefaultResolveTimeout,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewValidatorFromConfig builds a Validator from the guard section of the
// service configuration.
func NewValidatorFromConfig(cfg configtypes.GuardConfig, logger *zap.Logger) *Validator {
	var resolver Resolver = NewNetResolver()
	if cfg.DNSServer != "" {
		resolver = NewNetResolverWithServer(cfg.DNSServer, 0)
	}

	timeout := DefaultResolveTimeout
	if cfg.ResolveTimeout != nil {
		timeout = time.Duration(*cfg.ResolveTimeout)
	}

	return NewValidator(
		WithResolver(resolver),
		WithBlockedHostnames(cfg.BlockedHostnames),
		WithResolveTimeout(timeout),
		WithLogger(logger),
	)
}

var defaultValidator = NewValidator()

// ValidateURLForSSRF validates rawURL with the default Validator.
func ValidateURLForSSRF(ctx context.Context, rawURL string) Result {
	return defaultValidator.Validate(ctx, rawURL)
}

// Validate parses rawURL, checks its protocol, resolves its hostname and
// classifies every resulting address. It stops at the first failure. On
// success the returned URL has its host replaced by the normalized form that
// was checked; callers must fetch that URL rather than rawURL.
func (v *Validator) Validate(ctx context.Context, rawURL string) Result {
	u, err := url.Parse(rawURL)
	if err != nil {
		return v.reject(RuleMalformedURL, "", "Invalid URL: %v", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return v.reject(RuleProtocol, "",
			"Protocol %q is not allowed; only http: and https: are supported", u.Scheme+":")
	}

	host, _, res := v.checkHost(ctx, u.Hostname())
	if res != nil {
		return *res
	}

	canonical := *u
	canonical.Host = joinHost(host, u.Port())
	return Result{Valid: true, URL: &canonical}
}

// CheckHost runs the hostname part of Validate on its own and returns the
// addresses that passed. The fetch dialer connects only to these.
func (v *Validator) CheckHost(ctx context.Context, hostname string) ([]netip.Addr, Result) {
	_, addrs, res := v.checkHost(ctx, hostname)
	if res != nil {
		return nil, *res
	}
	return addrs, Result{Valid: true}
}

func (v *Validator) checkHost(ctx context.Context, hostname string) (string, []netip.Addr, *Result) {
	if hostname == "" {
		r := v.reject(RuleMalformedURL, "", "URL has no hostname")
		return "", nil, &r
	}

	host, err := normalizeHostname(hostname)
	if err != nil {
		r := v.reject(RuleMalformedURL, "", "Invalid hostname %q: %v", hostname, err)
		return "", nil, &r
	}

	if v.blocked.contains(host) {
		r := v.reject(RuleBlockedHostname, "", "Hostname %q is not allowed", host)
		return "", nil, &r
	}

	if addr, ok := parseIPLiteral(host); ok {
		if c := ClassifyAddr(addr); c.Blocked {
			r := v.reject(RuleBlockedIP, c.Category,
				"Address %s is in a blocked range (%s)", addr, c.Category)
			return "", nil, &r
		}
		return host, []netip.Addr{addr}, nil
	}

	addrs, res := v.resolveAndClassify(ctx, host)
	if res != nil {
		return "", nil, res
	}
	return host, addrs, nil
}

func (v *Validator) resolveAndClassify(ctx context.Context, host string) ([]netip.Addr, *Result) {
	if v.resolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.resolveTimeout)
		defer cancel()
	}

	addrs, err := resolveAll(ctx, v.resolver, host)
	if err != nil {
		r := v.reject(RuleResolution, "", "unable to resolve hostname %q: %v", host, err)
		return nil, &r
	}

	for _, addr := range addrs {
		if c := ClassifyAddr(addr); c.Blocked {
			r := v.reject(RuleBlockedIP, c.Category,
				"Hostname %q resolves to blocked address %s (%s)", host, addr, c.Category)
			return nil, &r
		}
	}
	return addrs, nil
}

func (v *Validator) reject(rule Rule, category, format string, args ...interface{}) Result {
	reason := fmt.Sprintf(format, args...)
	v.logger.Debug("Outbound URL rejected",
		zap.String("rule", string(rule)),
		zap.String("reason", reason))
	return Result{Reason: reason, Rule: rule, Category: category}
}

func joinHost(host, port string) string {
	if port == "" {
		if addr, ok := parseIPLiteral(host); ok && addr.Is6() {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, port)
}
