package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"

	"github.com/mealplanner/importer/internal/common/configtypes"
	"github.com/mealplanner/importer/internal/common/redis"
	"github.com/mealplanner/importer/internal/fetch"
	"github.com/mealplanner/importer/internal/importer"
	"github.com/mealplanner/importer/internal/metrics"
	"github.com/mealplanner/importer/internal/server"
	"github.com/mealplanner/importer/internal/ssrf"
)

func TestAPI(t *testing.T) {
	RegisterFailHandler(Fail)

	suiteConfig, reporterConfig := GinkgoConfiguration()
	suiteConfig.Timeout = 2 * time.Minute
	reporterConfig.Succinct = true

	RunSpecs(t, "Recipe Import API Suite", suiteConfig, reporterConfig)
}

// suiteResolver maps hostnames to a single IPv4 address.
type suiteResolver map[string]string

func (r suiteResolver) LookupA(_ context.Context, host string) ([]netip.Addr, error) {
	ip, ok := r[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return []netip.Addr{netip.MustParseAddr(ip)}, nil
}

func (r suiteResolver) LookupAAAA(context.Context, string) ([]netip.Addr, error) {
	return nil, nil
}

const applePie = `<html><head><title>Apple Pie</title>
<script type="application/ld+json">{
	"@context": "https://schema.org",
	"@type": "Recipe",
	"name": "Apple Pie",
	"image": ["/img/pie.jpg", "http://127.0.0.1/private.jpg"],
	"recipeIngredient": ["6 apples", "1 cup sugar"],
	"recipeInstructions": [{"@type": "HowToStep", "text": "Bake."}],
	"totalTime": "PT1H15M"
}</script></head><body></body></html>`

func originHandler(hits *atomic.Int64) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		hits.Add(1)
		switch string(ctx.Path()) {
		case "/apple-pie":
			ctx.SetContentType("text/html; charset=utf-8")
			ctx.SetBodyString(applePie)
		case "/moved":
			ctx.Redirect("/apple-pie", fasthttp.StatusMovedPermanently)
		case "/to-metadata":
			ctx.Response.Header.Set(fasthttp.HeaderLocation, "http://169.254.169.254/latest/meta-data/")
			ctx.SetStatusCode(fasthttp.StatusFound)
		case "/blog":
			ctx.SetContentType("text/html")
			ctx.SetBodyString("<html><body><p>No recipe today</p></body></html>")
		default:
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		}
	}
}

type apiEnv struct {
	client     *fasthttp.Client
	apiLn      *fasthttputil.InmemoryListener
	originLn   *fasthttputil.InmemoryListener
	originHits *atomic.Int64
	redis      *miniredis.Miniredis
	redisConn  *redis.Client
	metrics    *metrics.PrometheusMetrics
}

type apiResponse struct {
	StatusCode int             `json:"-"`
	RequestID  string          `json:"-"`
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

func (e *apiEnv) do(method, uri, body string, headers map[string]string) apiResponse {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://importer.test" + uri)
	req.Header.SetMethod(method)
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	Expect(e.client.DoTimeout(req, resp, 10*time.Second)).To(Succeed())

	out := apiResponse{
		StatusCode: resp.StatusCode(),
		RequestID:  string(resp.Header.Peek("X-Request-ID")),
	}
	if len(resp.Body()) > 0 && string(resp.Header.ContentType()) == "application/json" {
		Expect(json.Unmarshal(resp.Body(), &out)).To(Succeed())
	}
	return out
}

func (e *apiEnv) importURL(target string) apiResponse {
	body, err := json.Marshal(map[string]string{"url": target})
	Expect(err).NotTo(HaveOccurred())
	return e.do(fasthttp.MethodPost, server.RouteImport, string(body), nil)
}

func (e *apiEnv) close() {
	_ = e.apiLn.Close()
	_ = e.originLn.Close()
	_ = e.redisConn.Close()
	e.redis.Close()
}

func newAPIEnv() *apiEnv {
	env := &apiEnv{
		apiLn:      fasthttputil.NewInmemoryListener(),
		originLn:   fasthttputil.NewInmemoryListener(),
		originHits: &atomic.Int64{},
	}

	origin := &fasthttp.Server{Handler: originHandler(env.originHits)}
	go func() { _ = origin.Serve(env.originLn) }()

	var err error
	env.redis, err = miniredis.Run()
	Expect(err).NotTo(HaveOccurred())
	env.redisConn, err = redis.NewClient(configtypes.RedisConfig{Addr: env.redis.Addr()}, zap.NewNop())
	Expect(err).NotTo(HaveOccurred())

	logger := zap.NewNop()
	guard := ssrf.NewValidator(
		ssrf.WithResolver(suiteResolver{
			"recipes.example":  "93.184.216.34",
			"intranet.example": "192.168.1.20",
		}),
		ssrf.WithBlockedHostnames([]string{"metadata.google.internal"}),
	)
	fetcher := fetch.New(guard, configtypes.FetchConfig{}, logger,
		fetch.WithConnect(func(string, time.Duration) (net.Conn, error) {
			return env.originLn.Dial()
		}))

	env.metrics = metrics.NewPrometheusMetrics("mealplanner", logger)
	cache := importer.NewCache(env.redisConn, configtypes.CacheConfig{
		Enabled:     true,
		TTL:         configtypes.Duration(time.Hour),
		Compression: configtypes.CompressionSnappy,
		KeyPrefix:   "recipe:import:",
	}, env.metrics, logger)
	svc := importer.NewService(guard, fetcher, logger,
		importer.WithCache(cache),
		importer.WithMetrics(env.metrics))

	api := server.NewServer(svc, env.metrics, 10*time.Second, logger)
	httpServer := server.NewFastHTTPServer(api.HandleRequest, configtypes.ServerConfig{
		Timeout:            configtypes.Duration(10 * time.Second),
		MaxRequestBodySize: 4096,
	})
	go func() { _ = httpServer.Serve(env.apiLn) }()

	env.client = &fasthttp.Client{
		Dial: func(string) (net.Conn, error) {
			return env.apiLn.Dial()
		},
	}
	return env
}
