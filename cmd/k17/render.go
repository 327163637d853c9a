package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/zberg/go-k17/pkg/k17"
)

const volumeBarWidth = 20

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// renderVolume draws "Volume [bar] NNN".
func renderVolume(v int) string {
	clamped := min(max(v, k17.MinVolume), k17.MaxVolume)
	filled := clamped * volumeBarWidth / k17.MaxVolume

	bar := barStyle.Render(strings.Repeat("█", filled)) +
		dimStyle.Render(strings.Repeat("░", volumeBarWidth-filled))
	return fmt.Sprintf("%s %s %3d", labelStyle.Render("Volume"), bar, v)
}

// renderSettings lists every setting, one per line, sorted by key.
func renderSettings(s k17.Settings) string {
	if len(s) == 0 {
		return dimStyle.Render("(device reported no settings)")
	}

	keys := make([]string, 0, len(s))
	width := 0
	for k := range s {
		keys = append(keys, k)
		width = max(width, len(k))
	}
	slices.Sort(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		label := labelStyle.Render(fmt.Sprintf("%-*s", width, k))
		lines = append(lines, fmt.Sprintf("  %s  %v", label, s[k]))
	}
	return strings.Join(lines, "\n")
}
