package importer

import (
	"errors"

	"github.com/mealplanner/importer/internal/recipe"
	"github.com/mealplanner/importer/internal/ssrf"
)

var (
	// ErrURLRejected matches every *RejectedError.
	ErrURLRejected = errors.New("URL not allowed")
	// ErrFetchFailed wraps transport, status and size failures of the remote page.
	ErrFetchFailed = errors.New("failed to fetch recipe page")
	// ErrNoRecipe is recipe.ErrNoRecipe, re-exported for callers of Import.
	ErrNoRecipe = recipe.ErrNoRecipe
)

// RejectedError reports a URL the guard refused, either as submitted or as
// a redirect target. Reason is meant for logs, not for end users.
type RejectedError struct {
	URL      string
	Reason   string
	Rule     ssrf.Rule
	Category string
}

func (e *RejectedError) Error() string {
	return "URL rejected: " + e.Reason
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrURLRejected
}

func rejected(rawURL string, res ssrf.Result) *RejectedError {
	return &RejectedError{
		URL:      rawURL,
		Reason:   res.Reason,
		Rule:     res.Rule,
		Category: res.Category,
	}
}
