package httputil

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func decode(t *testing.T, ctx *fasthttp.RequestCtx) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &out))
	return out
}

func TestJSONError(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	JSONError(ctx, "req-1", "Failed to import recipe", fasthttp.StatusBadGateway)

	assert.Equal(t, fasthttp.StatusBadGateway, ctx.Response.StatusCode())
	assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))

	body := decode(t, ctx)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Failed to import recipe", body["message"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.NotContains(t, body, "data")
}

func TestJSONData(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	JSONData(ctx, "", map[string]bool{"valid": true}, fasthttp.StatusOK)

	body := decode(t, ctx)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]interface{}{"valid": true}, body["data"])
	assert.NotContains(t, body, "request_id")
}

func TestWrite_UnencodableData(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	Write(ctx, APIResponse{Success: true, Data: math.Inf(1)}, fasthttp.StatusOK)

	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
	assert.Equal(t, false, decode(t, ctx)["success"])
}
