package requestid

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// Header carries the request ID in both directions.
const Header = "X-Request-ID"

// MaxLength caps caller-supplied IDs after sanitization.
const MaxLength = 64

const userValueKey = "request_id"

var disallowed = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Sanitize strips everything outside [a-zA-Z0-9._-] and truncates the result
// to MaxLength. It returns "" when nothing usable remains.
func Sanitize(id string) string {
	id = disallowed.ReplaceAllString(strings.TrimSpace(id), "")
	id = strings.Trim(id, ".-_")
	if len(id) > MaxLength {
		id = id[:MaxLength]
	}
	return id
}

// Resolve returns the sanitized caller-supplied ID, or a new UUID when the
// caller sent none or nothing survived sanitization.
func Resolve(supplied string) string {
	if id := Sanitize(supplied); id != "" {
		return id
	}
	return uuid.NewString()
}

// Attach resolves the request ID from the incoming header, stores it on the
// request context and echoes it in the response header.
func Attach(ctx *fasthttp.RequestCtx) string {
	id := Resolve(string(ctx.Request.Header.Peek(Header)))
	ctx.SetUserValue(userValueKey, id)
	ctx.Response.Header.Set(Header, id)
	return id
}

// From returns the ID stored by Attach, or "".
func From(ctx *fasthttp.RequestCtx) string {
	id, _ := ctx.UserValue(userValueKey).(string)
	return id
}
