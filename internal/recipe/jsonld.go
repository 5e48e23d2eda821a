package recipe

import (
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// decodeJSONLD unmarshals a JSON-LD block, repairing it first when it does
// not parse as is. Sites commonly ship trailing commas, unescaped newlines
// and truncated blocks.
func decodeJSONLD(raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "<!--")
	raw = strings.TrimSuffix(raw, "-->")

	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("unrepairable JSON-LD: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return nil, fmt.Errorf("repaired JSON-LD does not parse: %w", err)
	}
	return v, nil
}

func fromJSONLD(body []byte, pageURL string) (*Recipe, error) {
	v, err := decodeJSONLD(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoRecipe, err)
	}
	node := findRecipe(v, 0)
	if node == nil {
		return nil, ErrNoRecipe
	}
	return buildRecipe(node, pageURL), nil
}

// maxDepth bounds the search through nested graphs.
const maxDepth = 8

// findRecipe returns the first object whose @type includes Recipe. It looks
// through arrays, @graph containers and mainEntity references.
func findRecipe(v interface{}, depth int) map[string]interface{} {
	if depth > maxDepth {
		return nil
	}
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			if r := findRecipe(item, depth+1); r != nil {
				return r
			}
		}
	case map[string]interface{}:
		if hasType(t, "Recipe") {
			return t
		}
		for _, key := range []string{"@graph", "mainEntity", "mainEntityOfPage", "itemListElement", "item"} {
			if child, ok := t[key]; ok {
				if r := findRecipe(child, depth+1); r != nil {
					return r
				}
			}
		}
	}
	return nil
}

// hasType matches "Recipe", "schema:Recipe" and "https://schema.org/Recipe"
// in a string or array @type.
func hasType(node map[string]interface{}, want string) bool {
	match := func(s string) bool {
		s = strings.TrimSpace(s)
		if i := strings.LastIndexAny(s, "/:"); i >= 0 {
			s = s[i+1:]
		}
		return strings.EqualFold(s, want)
	}
	switch t := node["@type"].(type) {
	case string:
		return match(t)
	case []interface{}:
		for _, item := range t {
			if s, ok := item.(string); ok && match(s) {
				return true
			}
		}
	}
	return false
}

func buildRecipe(node map[string]interface{}, pageURL string) *Recipe {
	r := &Recipe{
		Name:         text(node["name"]),
		Description:  text(node["description"]),
		Images:       resolveAll(pageURL, images(node["image"])),
		Ingredients:  list(firstPresent(node, "recipeIngredient", "ingredients")),
		Instructions: instructions(node["recipeInstructions"]),
		PrepMinutes:  minutes(node["prepTime"]),
		CookMinutes:  minutes(node["cookTime"]),
		TotalMinutes: minutes(node["totalTime"]),
		Yield:        text(node["recipeYield"]),
		Author:       author(node["author"]),
		Category:     list(node["recipeCategory"]),
		Cuisine:      list(node["recipeCuisine"]),
		Keywords:     keywords(node["keywords"]),
	}
	if r.Ingredients == nil {
		r.Ingredients = []string{}
	}
	if r.Instructions == nil {
		r.Instructions = []string{}
	}
	if r.TotalMinutes == 0 && (r.PrepMinutes > 0 || r.CookMinutes > 0) {
		r.TotalMinutes = r.PrepMinutes + r.CookMinutes
	}
	return r
}

func firstPresent(node map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := node[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// text reduces a JSON-LD value to one clean string. Objects contribute
// their name or @value, arrays their first non-empty element.
func text(v interface{}) string {
	switch t := v.(type) {
	case string:
		return clean(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]interface{}:
		for _, k := range []string{"name", "text", "@value"} {
			if s := text(t[k]); s != "" {
				return s
			}
		}
	case []interface{}:
		for _, item := range t {
			if s := text(item); s != "" {
				return s
			}
		}
	}
	return ""
}

// list flattens a string, array or comma-free scalar into non-empty strings.
func list(v interface{}) []string {
	var out []string
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			if s := text(item); s != "" {
				out = append(out, s)
			}
		}
	default:
		if s := text(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// keywords splits a comma separated keyword string.
func keywords(v interface{}) []string {
	if s, ok := v.(string); ok {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if k := clean(part); k != "" {
				out = append(out, k)
			}
		}
		return out
	}
	return list(v)
}

func author(v interface{}) string {
	names := list(v)
	return strings.Join(names, ", ")
}

// images collects URLs from a string, ImageObject or array of either.
func images(v interface{}) []string {
	var out []string
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	case map[string]interface{}:
		for _, k := range []string{"url", "contentUrl", "@id"} {
			if s, ok := t[k].(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
				break
			}
		}
	case []interface{}:
		for _, item := range t {
			out = append(out, images(item)...)
		}
	}
	return dedupe(out)
}

// instructions flattens plain text, HowToStep, HowToSection and ItemList
// values into an ordered list of steps.
func instructions(v interface{}) []string {
	var out []string
	switch t := v.(type) {
	case string:
		for _, line := range strings.Split(t, "\n") {
			if s := clean(line); s != "" {
				out = append(out, s)
			}
		}
	case []interface{}:
		for _, item := range t {
			out = append(out, instructions(item)...)
		}
	case map[string]interface{}:
		if children, ok := t["itemListElement"]; ok {
			return instructions(children)
		}
		if s := text(t["text"]); s != "" {
			return []string{s}
		}
		if s := text(t["name"]); s != "" {
			return []string{s}
		}
	}
	return out
}

func resolveAll(pageURL string, refs []string) []string {
	base, err := url.Parse(pageURL)
	if err != nil || pageURL == "" {
		return refs
	}
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		u, err := url.Parse(ref)
		if err != nil {
			continue
		}
		out = append(out, base.ResolveReference(u).String())
	}
	if len(out) == 0 {
		return nil
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// clean unescapes entities, drops inline markup and collapses whitespace.
func clean(s string) string {
	s = html.UnescapeString(s)
	if strings.ContainsRune(s, '<') {
		s = stripTags(s)
	}
	return strings.Join(strings.Fields(s), " ")
}
