package recipe

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

func fromHTML(body []byte, pageURL string) (*Recipe, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	var found map[string]interface{}
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, err := decodeJSONLD(s.Text())
		if err != nil {
			return true
		}
		found = findRecipe(v, 0)
		return found == nil
	})
	if found != nil {
		return buildRecipe(found, pageURL), nil
	}

	if r := fromMetadata(doc, pageURL); r != nil {
		return r, nil
	}
	return nil, ErrNoRecipe
}

// fromMetadata builds a partial recipe from OpenGraph and standard meta
// tags. A title is required.
func fromMetadata(doc *goquery.Document, pageURL string) *Recipe {
	name := firstNonEmpty(
		metaContent(doc, `meta[property="og:title"]`),
		metaContent(doc, `meta[name="twitter:title"]`),
		clean(doc.Find("title").First().Text()),
		clean(doc.Find("h1").First().Text()),
	)
	if name == "" {
		return nil
	}

	var imgs []string
	doc.Find(`meta[property="og:image"], meta[property="og:image:url"], meta[name="twitter:image"]`).
		Each(func(_ int, s *goquery.Selection) {
			if c := strings.TrimSpace(s.AttrOr("content", "")); c != "" {
				imgs = append(imgs, c)
			}
		})

	return &Recipe{
		Name: name,
		Description: firstNonEmpty(
			metaContent(doc, `meta[property="og:description"]`),
			metaContent(doc, `meta[name="description"]`),
		),
		Images:       resolveAll(pageURL, dedupe(imgs)),
		Ingredients:  []string{},
		Instructions: []string{},
		Author:       metaContent(doc, `meta[name="author"]`),
		Partial:      true,
	}
}

func metaContent(doc *goquery.Document, selector string) string {
	return clean(doc.Find(selector).First().AttrOr("content", ""))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// stripTags returns the text content of an HTML fragment.
func stripTags(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	// block elements would otherwise glue adjacent words together
	doc.Find("br, p, li, div").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return doc.Text()
}
