package fetch

import (
	"errors"
	"fmt"

	"github.com/mealplanner/importer/internal/ssrf"
)

var (
	// ErrBlocked matches every *BlockedError.
	ErrBlocked = errors.New("destination not allowed")
	// ErrResponseTooLarge is returned when the body, raw or decoded, exceeds the limit.
	ErrResponseTooLarge = errors.New("response body exceeds size limit")
	// ErrTooManyRedirects is returned when the redirect chain exceeds the limit.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrBadRedirect is returned for a redirect without a usable Location.
	ErrBadRedirect = errors.New("invalid redirect location")
)

// BlockedError reports a URL or connect address rejected by the guard,
// either up front or while following a redirect.
type BlockedError struct {
	URL    string
	Result ssrf.Result
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("destination %s not allowed: %s", e.URL, e.Result.Reason)
}

func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

// StatusError is returned when the final response is not 2xx.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}
