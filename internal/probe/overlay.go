package probe

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/e7canasta/orion-care-sensor/modules/usb-detect/internal/meta"
)

// Overlay placement and styling.
const (
	overlayX        = 10
	overlayY        = 12
	overlayFont     = "Serif"
	overlayFontSize = 10
)

// overlayText renders "Person = 2 Vehicle = 1", labels in alphabetical order,
// bounded to fit a display slot.
func overlayText(classes []Class, counts []int) string {
	idx := make([]int, len(classes))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return classes[idx[a]].Label < classes[idx[b]].Label })

	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("%s = %d", classes[i].Label, counts[i]))
	}
	return truncate(strings.Join(parts, " "), meta.MaxDisplayLen-1)
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func overlay(text string) meta.Text {
	bg := meta.Black
	return meta.Text{
		Content: text,
		X:       overlayX,
		Y:       overlayY,
		Font: meta.Font{
			Name:  overlayFont,
			Size:  overlayFontSize,
			Color: meta.White,
		},
		Background: &bg,
	}
}
