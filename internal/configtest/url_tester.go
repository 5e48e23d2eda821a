package configtest

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"go.uber.org/zap"

	"github.com/mealplanner/importer/internal/common/config"
	"github.com/mealplanner/importer/internal/common/configtypes"
	"github.com/mealplanner/importer/internal/common/redis"
	"github.com/mealplanner/importer/internal/ssrf"
)

// Guard is the validation surface exercised by a URL test.
type Guard interface {
	Validate(ctx context.Context, rawURL string) ssrf.Result
	CheckHost(ctx context.Context, hostname string) ([]netip.Addr, ssrf.Result)
}

// URLTestResult describes how the service would treat a URL
type URLTestResult struct {
	URL          string
	Valid        bool
	CanonicalURL string
	CacheKey     string // empty when the cache is disabled
	Addresses    []netip.Addr
	Rule         ssrf.Rule
	Category     string
	Reason       string
}

// CheckURL runs rawURL through guard the same way an import would
func CheckURL(ctx context.Context, guard Guard, cfg *configtypes.ImporterConfig, rawURL string) *URLTestResult {
	res := guard.Validate(ctx, rawURL)
	out := &URLTestResult{
		URL:      rawURL,
		Valid:    res.Valid,
		Rule:     res.Rule,
		Category: res.Category,
		Reason:   res.Reason,
	}
	if !res.Valid {
		return out
	}

	out.CanonicalURL = res.URL.String()
	if cfg.Cache.Enabled {
		out.CacheKey = redis.ImportKey(cfg.Cache.KeyPrefix, out.CanonicalURL)
	}
	if addrs, hostRes := guard.CheckHost(ctx, res.URL.Hostname()); hostRes.Valid {
		out.Addresses = addrs
	}
	return out
}

// PrintURLTestResult writes a human readable verdict
func PrintURLTestResult(w io.Writer, r *URLTestResult) {
	fmt.Fprintf(w, "\nTesting URL: %s\n", r.URL)
	if !r.Valid {
		fmt.Fprintln(w, "Verdict: REJECTED")
		fmt.Fprintf(w, "Rule: %s\n", r.Rule)
		if r.Category != "" {
			fmt.Fprintf(w, "Blocked range: %s\n", r.Category)
		}
		fmt.Fprintf(w, "Reason: %s\n", r.Reason)
		return
	}

	fmt.Fprintln(w, "Verdict: ALLOWED")
	fmt.Fprintf(w, "Canonical URL: %s\n", r.CanonicalURL)
	if len(r.Addresses) > 0 {
		addrs := make([]string, len(r.Addresses))
		for i, a := range r.Addresses {
			addrs[i] = a.String()
		}
		fmt.Fprintf(w, "Addresses: %s\n", strings.Join(addrs, ", "))
	}
	if r.CacheKey != "" {
		fmt.Fprintf(w, "Cache key: %s\n", r.CacheKey)
	} else {
		fmt.Fprintln(w, "Cache key: (cache disabled)")
	}
}

// Run validates the configuration at configPath and optionally tests a URL
// against the configured guard. It returns the process exit code.
func Run(configPath, testURL string, stdout, stderr io.Writer) int {
	cfg, err := config.LoadImporterConfig(configPath, zap.NewNop())
	if err != nil {
		fmt.Fprintf(stderr, "Configuration validation FAILED:\n- %s: %v\n", configPath, err)
		return 1
	}
	fmt.Fprintf(stdout, "configuration file %s syntax is ok\n", configPath)
	fmt.Fprintln(stdout, "configuration test is successful")

	if testURL == "" {
		return 0
	}

	guard := ssrf.NewValidatorFromConfig(cfg.Guard, zap.NewNop())
	result := CheckURL(context.Background(), guard, cfg, testURL)
	PrintURLTestResult(stdout, result)
	if !result.Valid {
		return 2
	}
	return 0
}
