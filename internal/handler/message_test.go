package handler

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncatePreviewShortBodyUnchanged(t *testing.T) {
	assert.Equal(t, "hi", truncatePreview("hi"))

	exact := strings.Repeat("a", previewRuneLimit)
	assert.Equal(t, exact, truncatePreview(exact))
}

func TestTruncatePreviewLongBody(t *testing.T) {
	long := strings.Repeat("a", previewRuneLimit+50)
	got := truncatePreview(long)
	assert.Equal(t, strings.Repeat("a", previewRuneLimit-3)+"...", got)
}

func TestTruncatePreviewKeepsRunesWhole(t *testing.T) {
	// Each emoji is 4 bytes, so a byte-offset cut would land mid-rune.
	long := strings.Repeat("👍", previewRuneLimit+10)
	got := truncatePreview(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("👍", previewRuneLimit-3)+"...", got)
}
