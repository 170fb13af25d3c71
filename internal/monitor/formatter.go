package monitor

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// FormatAttempts formats attempts against the retry bound, "2/3".
func FormatAttempts(attempts, max int) string {
	if max <= 0 {
		return fmt.Sprintf("%d", attempts)
	}
	return fmt.Sprintf("%d/%d", attempts, max)
}

// FormatAge formats the time since t as "Xs", "Xm" or "Xh Ym".
func FormatAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// Truncate shortens s to at most n runes, marking the cut with "…".
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
