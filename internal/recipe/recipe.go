// Package recipe extracts schema.org Recipe data from fetched pages.
package recipe

import (
	"errors"
	"mime"
	"strings"
)

// ErrNoRecipe is returned when a page has neither Recipe markup nor enough
// metadata for a partial import.
var ErrNoRecipe = errors.New("no recipe found")

// Recipe is the normalized result of an import. Times are whole minutes.
type Recipe struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Images       []string `json:"images,omitempty"`
	Ingredients  []string `json:"ingredients"`
	Instructions []string `json:"instructions"`
	PrepMinutes  int      `json:"prep_minutes,omitempty"`
	CookMinutes  int      `json:"cook_minutes,omitempty"`
	TotalMinutes int      `json:"total_minutes,omitempty"`
	Yield        string   `json:"yield,omitempty"`
	Author       string   `json:"author,omitempty"`
	Category     []string `json:"category,omitempty"`
	Cuisine      []string `json:"cuisine,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	SourceURL    string   `json:"source_url"`

	// Partial marks a recipe built from page metadata only.
	Partial bool `json:"partial,omitempty"`
}

// Extract finds the first Recipe on a page. JSON bodies are read as JSON-LD
// directly; anything else is parsed as HTML. pageURL resolves relative
// image references and becomes SourceURL.
func Extract(body []byte, contentType, pageURL string) (*Recipe, error) {
	var (
		r   *Recipe
		err error
	)
	if isJSON(contentType) {
		r, err = fromJSONLD(body, pageURL)
	} else {
		r, err = fromHTML(body, pageURL)
	}
	if err != nil {
		return nil, err
	}
	r.SourceURL = pageURL
	return r, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mediaType == "application/json" ||
		mediaType == "application/ld+json" ||
		strings.HasSuffix(mediaType, "+json")
}
