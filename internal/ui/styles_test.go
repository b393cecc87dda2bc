package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetStyles(t *testing.T) {
	// NoColor styles must render text unchanged.
	plain := GetStyles(true)
	assert.Equal(t, "lease", plain.Header.Render("lease"))
	assert.Equal(t, "lease", plain.Error.Render("lease"))

	// Colored styles still produce the text (possibly wrapped in
	// escapes, depending on the terminal profile lipgloss detects).
	colored := GetStyles(false)
	assert.Contains(t, colored.Header.Render("lease"), "lease")
	assert.Contains(t, colored.Success.Render("ok"), "ok")
}

func TestDefaultStylesDistinctFromNoColor(t *testing.T) {
	// The two sets must at least differ structurally: the panel style
	// carries a border only in the default set.
	def := DefaultStyles()
	plain := NoColorStyles()

	assert.NotEqual(t, def.Panel.GetBorderStyle(), plain.Panel.GetBorderStyle())
}
