package redis

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ImportKey builds the cache key of an imported recipe. The key hashes the
// canonical URL returned by validation, so spellings that normalize to the
// same URL share an entry.
func ImportKey(prefix, canonicalURL string) string {
	var b strings.Builder
	b.Grow(len(prefix) + 16)
	b.WriteString(prefix)
	b.WriteString(strconv.FormatUint(xxhash.Sum64String(canonicalURL), 16))
	return b.String()
}
