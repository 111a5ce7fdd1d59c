package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateMiddleLeavesShortOutputUntouched(t *testing.T) {
	s := "short output"
	assert.Equal(t, s, truncateMiddle(s, 500, 1500))
}

func TestTruncateMiddleTruncatesLongSingleLine(t *testing.T) {
	// A single 5000-char line with no newlines must still be truncated —
	// the bound is on character count, not line count.
	s := strings.Repeat("x", 5000)
	out := truncateMiddle(s, 500, 1500)

	assert.Less(t, len(out), len(s))
	assert.True(t, strings.HasPrefix(out, strings.Repeat("x", 500)))
	assert.True(t, strings.HasSuffix(out, strings.Repeat("x", 1500)))
	assert.Contains(t, out, "chars omitted")
}

func TestTruncateMiddleBoundaryExactlyHeadPlusTail(t *testing.T) {
	s := strings.Repeat("y", 2000)
	assert.Equal(t, s, truncateMiddle(s, 500, 1500))
}
