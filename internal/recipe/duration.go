package recipe

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var isoDurationPattern = regexp.MustCompile(
	`^P(?:(\d+(?:\.\d+)?)W)?(?:(\d+(?:\.\d+)?)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISODuration parses the ISO-8601 durations used by schema.org
// ("PT1H30M", "P1DT2H", "PT45M"). Years and months are not accepted.
func ParseISODuration(s string) (time.Duration, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == "P" || strings.HasSuffix(s, "T") {
		return 0, false
	}
	m := isoDurationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}

	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var total float64
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		v, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0, false
		}
		total += v * float64(unit)
	}
	return time.Duration(total), true
}

// minutes converts a schema.org time value to whole minutes, rounding up.
// Bare numbers are taken as minutes.
func minutes(v interface{}) int {
	s := text(v)
	if s == "" {
		return 0
	}
	if d, ok := ParseISODuration(s); ok {
		return int(math.Ceil(d.Minutes()))
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return 0
}
