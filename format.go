package main

import (
	"fmt"
	"strings"
	"time"
)

// davURL is the address clients mount.
func davURL(exposed, prefix string) string {
	return strings.TrimSuffix(exposed, "/") + "/" + strings.Trim(prefix, "/") + "/"
}

// formatUntil returns a compact relative duration such as "in 42m" or
// "3h ago", rounded to the largest sensible unit.
func formatUntil(t, now time.Time) string {
	d := t.Sub(now)

	past := d < 0
	if past {
		d = -d
	}

	var s string

	switch {
	case d < time.Minute:
		s = fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		s = fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		s = fmt.Sprintf("%dh", int(d.Hours()))
	default:
		s = fmt.Sprintf("%dd", int(d.Hours()/24))
	}

	if past {
		return s + " ago"
	}

	return "in " + s
}

// formatTime returns a compact local timestamp for display.
func formatTime(t, now time.Time) string {
	t = t.Local()

	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}
