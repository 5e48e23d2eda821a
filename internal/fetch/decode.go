package fetch

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/valyala/fasthttp"
)

// decodeBody returns the response body with its content encoding removed.
// Compressed bodies are decoded as a stream that stops one byte past limit,
// so a small payload can never expand beyond limit in memory.
func decodeBody(resp *fasthttp.Response, limit int) ([]byte, error) {
	encoding := resp.Header.ContentEncoding()
	raw := resp.Body()

	var (
		r   io.Reader
		err error
	)
	switch {
	case len(encoding) == 0, bytes.EqualFold(encoding, []byte("identity")):
		if len(raw) > limit {
			return nil, fmt.Errorf("%w: body is %d bytes", ErrResponseTooLarge, len(raw))
		}
		return append([]byte(nil), raw...), nil
	case bytes.EqualFold(encoding, []byte("gzip")):
		var zr *gzip.Reader
		if zr, err = gzip.NewReader(bytes.NewReader(raw)); err == nil {
			defer zr.Close()
			r = zr
		}
	case bytes.EqualFold(encoding, []byte("deflate")):
		var zr io.ReadCloser
		if zr, err = zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer zr.Close()
			r = zr
		}
	case bytes.EqualFold(encoding, []byte("br")):
		r = brotli.NewReader(bytes.NewReader(raw))
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", encoding, err)
	}

	body, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", encoding, err)
	}
	if len(body) > limit {
		return nil, fmt.Errorf("%w: decoded body exceeds %d bytes", ErrResponseTooLarge, limit)
	}
	return body, nil
}
