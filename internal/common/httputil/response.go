package httputil

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// APIResponse is the envelope of every JSON response
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// Write sends resp as JSON with the given status
func Write(ctx *fasthttp.RequestCtx, resp APIResponse, statusCode int) {
	body, err := json.Marshal(resp)
	if err != nil {
		statusCode = fasthttp.StatusInternalServerError
		body = []byte(`{"success":false,"message":"Internal server error"}`)
	}
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// JSONError writes a failure envelope
func JSONError(ctx *fasthttp.RequestCtx, requestID, message string, statusCode int) {
	Write(ctx, APIResponse{Message: message, RequestID: requestID}, statusCode)
}

// JSONData writes a success envelope carrying data
func JSONData(ctx *fasthttp.RequestCtx, requestID string, data interface{}, statusCode int) {
	Write(ctx, APIResponse{Success: true, Data: data, RequestID: requestID}, statusCode)
}
