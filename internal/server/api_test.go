package server_test

import (
	"encoding/json"
	"net/url"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/valyala/fasthttp"

	"github.com/mealplanner/importer/internal/common/redis"
	"github.com/mealplanner/importer/internal/server"
)

type importData struct {
	Recipe struct {
		Name         string   `json:"name"`
		Images       []string `json:"images"`
		Ingredients  []string `json:"ingredients"`
		Instructions []string `json:"instructions"`
		TotalMinutes int      `json:"total_minutes"`
		SourceURL    string   `json:"source_url"`
	} `json:"recipe"`
	URL    string `json:"url"`
	Cached bool   `json:"cached"`
}

type validateData struct {
	Valid bool   `json:"valid"`
	URL   string `json:"url"`
}

var _ = Describe("Recipe Import API", func() {
	var env *apiEnv

	BeforeEach(func() {
		env = newAPIEnv()
	})

	AfterEach(func() {
		env.close()
	})

	Context("importing a public recipe page", func() {
		It("returns the extracted recipe and caches it", func() {
			By("Importing the page for the first time")
			resp := env.importURL("http://Recipes.Example./apple-pie")
			Expect(resp.StatusCode).To(Equal(fasthttp.StatusOK))
			Expect(resp.Success).To(BeTrue())

			var data importData
			Expect(json.Unmarshal(resp.Data, &data)).To(Succeed())
			Expect(data.Cached).To(BeFalse())
			Expect(data.URL).To(Equal("http://recipes.example/apple-pie"))
			Expect(data.Recipe.Name).To(Equal("Apple Pie"))
			Expect(data.Recipe.Ingredients).To(Equal([]string{"6 apples", "1 cup sugar"}))
			Expect(data.Recipe.Instructions).To(Equal([]string{"Bake."}))
			Expect(data.Recipe.TotalMinutes).To(Equal(75))

			By("Verifying loopback image URLs were dropped")
			Expect(data.Recipe.Images).To(Equal([]string{"http://recipes.example/img/pie.jpg"}))

			By("Verifying the recipe was written to Redis")
			Expect(env.redis.Exists(redis.ImportKey("recipe:import:", "http://recipes.example/apple-pie"))).To(BeTrue())

			By("Importing the same page again")
			resp = env.importURL("http://recipes.example/apple-pie")
			Expect(resp.StatusCode).To(Equal(fasthttp.StatusOK))
			Expect(json.Unmarshal(resp.Data, &data)).To(Succeed())
			Expect(data.Cached).To(BeTrue())
			Expect(env.originHits.Load()).To(Equal(int64(1)), "second import is served from cache")
		})

		It("follows safe redirects", func() {
			resp := env.importURL("http://recipes.example/moved")
			Expect(resp.StatusCode).To(Equal(fasthttp.StatusOK))

			var data importData
			Expect(json.Unmarshal(resp.Data, &data)).To(Succeed())
			Expect(data.Recipe.SourceURL).To(Equal("http://recipes.example/apple-pie"))
		})
	})

	Context("rejecting internal destinations", func() {
		DescribeTable("responds 422 with a generic message and never contacts the origin",
			func(target string) {
				resp := env.importURL(target)
				Expect(resp.StatusCode).To(Equal(fasthttp.StatusUnprocessableEntity))
				Expect(resp.Success).To(BeFalse())
				Expect(resp.Message).To(Equal("Failed to import recipe: URL not allowed"))
				Expect(env.originHits.Load()).To(BeZero())
			},
			Entry("loopback literal", "http://127.0.0.1:6379/"),
			Entry("localhost", "http://localhost/admin"),
			Entry("fullwidth localhost", "http://ｌｏｃａｌｈｏｓｔ/"),
			Entry("subdomain of localhost", "http://api.localhost/"),
			Entry("cloud metadata address", "http://169.254.169.254/latest/meta-data/"),
			Entry("configured metadata hostname", "http://metadata.google.internal/computeMetadata/v1/"),
			Entry("IPv6 loopback", "http://[::1]/"),
			Entry("IPv4-mapped IPv6", "http://[::ffff:10.0.0.1]/"),
			Entry("hostname resolving to a private address", "http://intranet.example/recipes"),
			Entry("unresolvable hostname", "http://nowhere.example/"),
			Entry("file scheme", "file:///etc/passwd"),
			Entry("gopher scheme", "gopher://recipes.example/"),
		)

		It("rejects redirects into internal ranges", func() {
			resp := env.importURL("http://recipes.example/to-metadata")
			Expect(resp.StatusCode).To(Equal(fasthttp.StatusUnprocessableEntity))
			Expect(resp.Message).To(Equal("Failed to import recipe: URL not allowed"))
			Expect(env.originHits.Load()).To(Equal(int64(1)), "only the first hop is fetched")
		})
	})

	Context("failed imports", func() {
		It("responds 404 when the page has no recipe", func() {
			resp := env.importURL("http://recipes.example/blog")
			Expect(resp.StatusCode).To(Equal(fasthttp.StatusNotFound))
			Expect(resp.Message).To(Equal("No recipe found at URL"))
		})

		It("responds 502 when the origin fails", func() {
			resp := env.importURL("http://recipes.example/broken")
			Expect(resp.StatusCode).To(Equal(fasthttp.StatusBadGateway))
			Expect(resp.Message).To(Equal("Failed to fetch recipe page"))
		})

		It("responds 400 to a malformed body", func() {
			resp := env.do(fasthttp.MethodPost, server.RouteImport, `{"url":`, nil)
			Expect(resp.StatusCode).To(Equal(fasthttp.StatusBadRequest))
		})

		It("refuses oversized request bodies", func() {
			body := `{"url":"http://recipes.example/` + strings.Repeat("a", 8192) + `"}`
			resp := env.do(fasthttp.MethodPost, server.RouteImport, body, nil)
			Expect(resp.StatusCode).To(Equal(fasthttp.StatusRequestEntityTooLarge))
			Expect(env.originHits.Load()).To(BeZero())
		})
	})

	Context("validating URLs", func() {
		It("returns the canonical URL of an allowed address", func() {
			resp := env.do(fasthttp.MethodGet, server.RouteValidate+"?url="+url.QueryEscape("HTTPS://RECIPES.EXAMPLE./pie?x=1"), "", nil)
			Expect(resp.StatusCode).To(Equal(fasthttp.StatusOK))
			Expect(resp.Message).To(BeEmpty())

			var data validateData
			Expect(json.Unmarshal(resp.Data, &data)).To(Succeed())
			Expect(data.Valid).To(BeTrue())
			Expect(data.URL).To(Equal("https://recipes.example/pie?x=1"))
		})

		It("returns the reason for a rejected address", func() {
			resp := env.do(fasthttp.MethodGet, server.RouteValidate+"?url="+url.QueryEscape("http://10.1.2.3/"), "", nil)
			Expect(resp.StatusCode).To(Equal(fasthttp.StatusOK))
			Expect(resp.Message).To(ContainSubstring("Private (Class A)"))

			var data validateData
			Expect(json.Unmarshal(resp.Data, &data)).To(Succeed())
			Expect(data.Valid).To(BeFalse())
			Expect(data.URL).To(BeEmpty())
		})

		It("never fetches the URL", func() {
			env.do(fasthttp.MethodGet, server.RouteValidate+"?url="+url.QueryEscape("http://recipes.example/apple-pie"), "", nil)
			Expect(env.originHits.Load()).To(BeZero())
		})
	})

	Context("request tracing and metrics", func() {
		It("echoes a sanitized caller request ID", func() {
			resp := env.do(fasthttp.MethodGet, server.RouteHealth, "", map[string]string{"X-Request-ID": "abc 123<script>"})
			Expect(resp.StatusCode).To(Equal(fasthttp.StatusOK))
			Expect(resp.RequestID).To(Equal("abc123script"))
		})

		It("generates a request ID when none is supplied", func() {
			resp := env.do(fasthttp.MethodGet, server.RouteHealth, "", nil)
			Expect(resp.RequestID).To(MatchRegexp(`^[0-9a-f-]{36}$`))
		})

		It("counts imports and validations", func() {
			env.importURL("http://recipes.example/apple-pie")
			env.importURL("http://recipes.example/apple-pie")
			env.importURL("http://127.0.0.1/")

			ctx := &fasthttp.RequestCtx{}
			ctx.Request.SetRequestURI("/metrics")
			env.metrics.ServeHTTP(ctx)

			body := string(ctx.Response.Body())
			Expect(body).To(ContainSubstring(`mealplanner_importer_imports_total{status="success"} 1`))
			Expect(body).To(ContainSubstring(`mealplanner_importer_imports_total{status="cached"} 1`))
			Expect(body).To(ContainSubstring(`mealplanner_importer_imports_total{status="rejected"} 1`))
			Expect(body).To(ContainSubstring(`mealplanner_importer_validations_total{category="Loopback",outcome="rejected"}`))
			Expect(body).To(ContainSubstring(`mealplanner_importer_http_requests_total{route="import",status="4xx"} 1`))
			Expect(body).To(ContainSubstring(`mealplanner_importer_cache_operations_total{operation="set",status="ok"} 1`))
		})
	})
})
