package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"

	"github.com/mealplanner/importer/internal/common/configtypes"
	"github.com/mealplanner/importer/internal/ssrf"
)

// stubResolver answers A queries from a map. When rebindTo is set, every
// lookup after the first pair returns it instead.
type stubResolver struct {
	a        map[string][]string
	rebindTo string
	calls    atomic.Int64
}

func (r *stubResolver) LookupA(_ context.Context, host string) ([]netip.Addr, error) {
	n := r.calls.Add(1)
	if r.rebindTo != "" && n > 2 {
		return []netip.Addr{netip.MustParseAddr(r.rebindTo)}, nil
	}
	ips, ok := r.a[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	out := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, netip.MustParseAddr(ip))
	}
	return out, nil
}

func (r *stubResolver) LookupAAAA(_ context.Context, _ string) ([]netip.Addr, error) {
	r.calls.Add(1)
	return nil, nil
}

type connectRecorder struct {
	mu    sync.Mutex
	addrs []string
	ln    *fasthttputil.InmemoryListener
}

func (c *connectRecorder) connect(addr string, _ time.Duration) (net.Conn, error) {
	c.mu.Lock()
	c.addrs = append(c.addrs, addr)
	c.mu.Unlock()
	return c.ln.Dial()
}

func (c *connectRecorder) dialed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.addrs...)
}

func testHandler(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/pie":
		ctx.SetContentType("text/html; charset=utf-8")
		ctx.SetBodyString("<html><title>Pie</title></html>")
	case "/old":
		ctx.Redirect("/pie", fasthttp.StatusMovedPermanently)
	case "/to-metadata":
		ctx.Response.Header.Set(fasthttp.HeaderLocation, "http://169.254.169.254/latest/meta-data")
		ctx.SetStatusCode(fasthttp.StatusFound)
	case "/to-localhost":
		ctx.Response.Header.Set(fasthttp.HeaderLocation, "http://localhost:6379/")
		ctx.SetStatusCode(fasthttp.StatusTemporaryRedirect)
	case "/to-file":
		ctx.Response.Header.Set(fasthttp.HeaderLocation, "file:///etc/passwd")
		ctx.SetStatusCode(fasthttp.StatusFound)
	case "/no-location":
		ctx.SetStatusCode(fasthttp.StatusFound)
	case "/loop":
		ctx.Redirect("/loop", fasthttp.StatusFound)
	case "/big":
		ctx.SetBodyString(strings.Repeat("x", 4096))
	case "/gzip":
		ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, "gzip")
		ctx.SetContentType("application/ld+json")
		ctx.SetBody(fasthttp.AppendGzipBytes(nil, []byte(`{"@type":"Recipe","name":"Soup"}`)))
	case "/gzip-bomb":
		ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, "gzip")
		ctx.SetBody(gzipBomb())
	case "/br-bomb":
		ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, "br")
		ctx.SetBody(brotliBomb())
	case "/deflate":
		ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, "deflate")
		ctx.SetBody(fasthttp.AppendDeflateBytes(nil, []byte("<title>Stew</title>")))
	case "/br":
		ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, "br")
		ctx.SetBody(fasthttp.AppendBrotliBytes(nil, []byte("<title>Stew</title>")))
	case "/bad-gzip":
		ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, "gzip")
		ctx.SetBodyString("not gzip at all")
	case "/compress":
		ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, "compress")
		ctx.SetBodyString("x")
	case "/agent":
		ctx.SetBody(ctx.Request.Header.UserAgent())
	case "/slow":
		time.Sleep(500 * time.Millisecond)
		ctx.SetBodyString("late")
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

// bombSize is the decoded size of the compression bombs.
const bombSize = 64 << 20

// writeZeros streams bombSize zero bytes through w without holding them in memory.
func writeZeros(w io.WriteCloser) {
	chunk := make([]byte, 1<<20)
	for i := 0; i < bombSize/len(chunk); i++ {
		if _, err := w.Write(chunk); err != nil {
			panic(err)
		}
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
}

var gzipBomb = sync.OnceValue(func() []byte {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		panic(err)
	}
	writeZeros(zw)
	return buf.Bytes()
})

var brotliBomb = sync.OnceValue(func() []byte {
	var buf bytes.Buffer
	writeZeros(brotli.NewWriterLevel(&buf, 5))
	return buf.Bytes()
})

type fixture struct {
	fetcher  *Fetcher
	recorder *connectRecorder
	resolver *stubResolver
}

func newFixture(t *testing.T, cfg configtypes.FetchConfig, resolver *stubResolver) *fixture {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: testHandler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	if resolver == nil {
		resolver = &stubResolver{a: map[string][]string{
			"recipes.example": {"93.184.216.34"},
			"cdn.example":     {"203.0.113.10"},
		}}
	}
	guard := ssrf.NewValidator(ssrf.WithResolver(resolver))
	rec := &connectRecorder{ln: ln}

	return &fixture{
		fetcher:  New(guard, cfg, zap.NewNop(), WithConnect(rec.connect)),
		recorder: rec,
		resolver: resolver,
	}
}

func TestFetch_Success(t *testing.T) {
	fx := newFixture(t, configtypes.FetchConfig{}, nil)

	resp, err := fx.fetcher.Fetch(context.Background(), "http://Recipes.Example./pie")
	require.NoError(t, err)

	assert.Equal(t, fasthttp.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html><title>Pie</title></html>", string(resp.Body))
	assert.Equal(t, "text/html; charset=utf-8", resp.ContentType)
	assert.Equal(t, "http://recipes.example/pie", resp.FinalURL)
	assert.Zero(t, resp.Redirects)
	assert.Equal(t, []string{"93.184.216.34:80"}, fx.recorder.dialed(), "connects to the validated address")
}

func TestFetch_UserAgent(t *testing.T) {
	fx := newFixture(t, configtypes.FetchConfig{UserAgent: "importer-test/2"}, nil)

	resp, err := fx.fetcher.Fetch(context.Background(), "http://recipes.example/agent")
	require.NoError(t, err)
	assert.Equal(t, "importer-test/2", string(resp.Body))
}

func TestFetch_RejectedBeforeConnect(t *testing.T) {
	fx := newFixture(t, configtypes.FetchConfig{}, nil)

	for _, raw := range []string{
		"http://127.0.0.1/pie",
		"http://localhost/pie",
		"file:///etc/passwd",
		"http://[::1]/admin",
	} {
		_, err := fx.fetcher.Fetch(context.Background(), raw)
		require.Error(t, err, raw)
		assert.ErrorIs(t, err, ErrBlocked, raw)

		var blocked *BlockedError
		require.ErrorAs(t, err, &blocked, raw)
		assert.NotEmpty(t, blocked.Result.Reason, raw)
	}
	assert.Empty(t, fx.recorder.dialed())
}

func TestFetch_Redirects(t *testing.T) {
	fx := newFixture(t, configtypes.FetchConfig{}, nil)

	resp, err := fx.fetcher.Fetch(context.Background(), "http://recipes.example/old")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Redirects)
	assert.Equal(t, "http://recipes.example/pie", resp.FinalURL)
	assert.Contains(t, string(resp.Body), "Pie")
}

func TestFetch_RedirectTargetsAreValidated(t *testing.T) {
	tests := []struct {
		path   string
		reason string
	}{
		{"/to-metadata", "Link-local"},
		{"/to-localhost", "localhost"},
		{"/to-file", "file:"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			fx := newFixture(t, configtypes.FetchConfig{}, nil)

			_, err := fx.fetcher.Fetch(context.Background(), "http://recipes.example"+tt.path)
			require.Error(t, err)

			var blocked *BlockedError
			require.ErrorAs(t, err, &blocked)
			assert.Contains(t, blocked.Result.Reason, tt.reason)
			assert.Equal(t, []string{"93.184.216.34:80"}, fx.recorder.dialed(), "only the first hop connects")
		})
	}
}

func TestFetch_RedirectErrors(t *testing.T) {
	fx := newFixture(t, configtypes.FetchConfig{MaxRedirects: 2}, nil)

	_, err := fx.fetcher.Fetch(context.Background(), "http://recipes.example/loop")
	assert.ErrorIs(t, err, ErrTooManyRedirects)

	_, err = fx.fetcher.Fetch(context.Background(), "http://recipes.example/no-location")
	assert.ErrorIs(t, err, ErrBadRedirect)
}

func TestFetch_DNSRebindingAtDial(t *testing.T) {
	resolver := &stubResolver{
		a:        map[string][]string{"rebind.example": {"93.184.216.34"}},
		rebindTo: "10.0.0.7",
	}
	fx := newFixture(t, configtypes.FetchConfig{}, resolver)

	_, err := fx.fetcher.Fetch(context.Background(), "http://rebind.example/pie")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Private (Class A)")
	assert.Empty(t, fx.recorder.dialed(), "rebound address is never connected to")
}

func TestFetch_BodyLimits(t *testing.T) {
	fx := newFixture(t, configtypes.FetchConfig{MaxBodySize: 1024}, nil)

	_, err := fx.fetcher.Fetch(context.Background(), "http://recipes.example/big")
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestFetch_CompressionBombs(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		body  []byte
		limit int
	}{
		{"gzip", "/gzip-bomb", gzipBomb(), 96 << 10},
		{"brotli", "/br-bomb", brotliBomb(), 32 << 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Less(t, len(tt.body), tt.limit, "compressed body fits under the raw limit")
			require.GreaterOrEqual(t, bombSize/tt.limit, 500)
			fx := newFixture(t, configtypes.FetchConfig{MaxBodySize: tt.limit}, nil)

			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			_, err := fx.fetcher.Fetch(context.Background(), "http://recipes.example"+tt.path)
			runtime.ReadMemStats(&after)

			assert.ErrorIs(t, err, ErrResponseTooLarge, "limit applies to the decoded body")
			assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(16<<20),
				"decoding stops at the limit instead of inflating the whole body")
		})
	}
}

func TestFetch_ContentEncodings(t *testing.T) {
	fx := newFixture(t, configtypes.FetchConfig{}, nil)

	for _, path := range []string{"/deflate", "/br"} {
		resp, err := fx.fetcher.Fetch(context.Background(), "http://recipes.example"+path)
		require.NoError(t, err, path)
		assert.Equal(t, "<title>Stew</title>", string(resp.Body), path)
	}

	_, err := fx.fetcher.Fetch(context.Background(), "http://recipes.example/bad-gzip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode gzip body")

	_, err = fx.fetcher.Fetch(context.Background(), "http://recipes.example/compress")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported content encoding")
}

func TestFetch_Gzip(t *testing.T) {
	fx := newFixture(t, configtypes.FetchConfig{}, nil)

	resp, err := fx.fetcher.Fetch(context.Background(), "http://recipes.example/gzip")
	require.NoError(t, err)
	assert.JSONEq(t, `{"@type":"Recipe","name":"Soup"}`, string(resp.Body))
	assert.Equal(t, "application/ld+json", resp.ContentType)
}

func TestFetch_StatusError(t *testing.T) {
	fx := newFixture(t, configtypes.FetchConfig{}, nil)

	_, err := fx.fetcher.Fetch(context.Background(), "http://recipes.example/missing")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, fasthttp.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "http://recipes.example/missing", statusErr.URL)
}

func TestFetch_Timeout(t *testing.T) {
	fx := newFixture(t, configtypes.FetchConfig{Timeout: configtypes.Duration(50 * time.Millisecond)}, nil)

	start := time.Now()
	_, err := fx.fetcher.Fetch(context.Background(), "http://recipes.example/slow")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestFetch_ContextCancel(t *testing.T) {
	fx := newFixture(t, configtypes.FetchConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	_, err := fx.fetcher.Fetch(ctx, "http://recipes.example/slow")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestFetch_CanceledBeforeStart(t *testing.T) {
	fx := newFixture(t, configtypes.FetchConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.fetcher.Fetch(ctx, "http://93.184.216.34/pie")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fx.recorder.dialed())
}

func TestNew_Defaults(t *testing.T) {
	f := New(ssrf.NewValidator(), configtypes.FetchConfig{}, nil)
	assert.Equal(t, DefaultTimeout, f.timeout)
	assert.Equal(t, DefaultMaxBodySize, f.maxBodySize)
	assert.Equal(t, DefaultMaxRedirects, f.maxRedirects)
	assert.Equal(t, DefaultUserAgent, f.userAgent)
	assert.NotNil(t, f.logger)
}
