package supervisor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		percent int
		ok      bool
	}{
		{name: "plain progress line", line: "Progress: 42%", percent: 42, ok: true},
		{name: "zero percent", line: "Progress: 0%", percent: 0, ok: true},
		{name: "hundred percent", line: "Progress: 100%", percent: 100, ok: true},
		{name: "no space after colon", line: "Progress:7%", percent: 7, ok: true},
		{name: "extra whitespace", line: "Progress:   55%", percent: 55, ok: true},
		{name: "embedded in a longer line", line: "chunk 3/10 Progress: 30% eta 2m", percent: 30, ok: true},
		{name: "values above hundred are clamped", line: "Progress: 250%", percent: 100, ok: true},
		{name: "unrelated output", line: "fetching file list", ok: false},
		{name: "missing percent sign", line: "Progress: 42", ok: false},
		{name: "negative numbers never match", line: "Progress: -5%", ok: false},
		{name: "non-numeric value", line: "Progress: abc%", ok: false},
		{name: "empty line", line: "", ok: false},
		{name: "overflowing digits are ignored", line: "Progress: 99999999999999999999%", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			percent, ok := ParseProgress(tt.line)
			require.Equal(t, tt.ok, ok)

			if tt.ok {
				require.Equal(t, tt.percent, percent)
			}
		})
	}
}
