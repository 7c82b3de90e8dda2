package learning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextCleaner_Clean(t *testing.T) {
	in := "<p>Use **tables**</p>   for\tcomparisons.\n\n\n\n  Keep __headers__ short.  "
	assert.Equal(t, "Use tables for comparisons.\n\nKeep headers short.", cleaner.Clean(in))
	assert.Equal(t, "", cleaner.Clean(" <br/> \n "))
}

func TestTextCleaner_Keywords(t *testing.T) {
	assert.Equal(t, []string{"go", "routing"}, cleaner.Keywords([]string{"Go", " routing ", "go", ""}))
	assert.Nil(t, cleaner.Keywords(nil))
}

func TestTextCleaner_Excerpt(t *testing.T) {
	assert.Equal(t, "short", cleaner.Excerpt("short", 10))

	text := strings.Repeat("a", 30) + ". " + strings.Repeat("b", 30)
	got := cleaner.Excerpt(text, 40)
	assert.Equal(t, strings.Repeat("a", 30)+". [truncated]", got)

	// No sentence break past the midpoint: hard cut.
	got = cleaner.Excerpt(strings.Repeat("c", 50), 20)
	assert.Equal(t, strings.Repeat("c", 20)+" [truncated]", got)
}
