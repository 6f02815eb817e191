package supervisor

import (
	"regexp"
	"strconv"
)

var progressPattern = regexp.MustCompile(`Progress:\s*(\d+)%`)

// ParseProgress extracts a percentage from one line of worker output. Lines
// that don't match `Progress: <digits>%` yield no value rather than an error,
// and out-of-range values are clamped into [0,100].
func ParseProgress(line string) (int, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}

	percent, err := strconv.Atoi(m[1])
	if err != nil {
		// Digits too large to fit an int; treat as no match.
		return 0, false
	}

	if percent > 100 {
		percent = 100
	}

	return percent, true
}
