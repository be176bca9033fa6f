package tui

import (
	"fmt"
	"io"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/muesli/termenv"
)

// PrintBanner writes the tendril banner with the version to w.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	lines := []struct{ text, color string }{
		{"  _                 _      _ _ ", "#34d399"},
		{" | |_ ___ _ __   __| |_ __(_) |", "#10b981"},
		{" | __/ _ \\ '_ \\ / _` | '__| | |", "#059669"},
		{" | ||  __/ | | | (_| | |  | | |", "#047857"},
		{"  \\__\\___|_| |_|\\__,_|_|  |_|_|", "#065f46"},
	}
	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w, out.String("  v"+version).Faint())
	fmt.Fprintln(w)
}

// Status renders a process status in its color.
func Status(w io.Writer, s domain.ProcessStatus) string {
	out := termenv.NewOutput(w)
	color := "#9ca3af"
	switch s {
	case domain.StatusFinished:
		color = "#22c55e"
	case domain.StatusFailed:
		color = "#ef4444"
	case domain.StatusCancelled:
		color = "#f97316"
	case domain.StatusSuspended:
		color = "#eab308"
	case domain.StatusRunning:
		color = "#3b82f6"
	}
	return out.String(string(s)).Foreground(out.Color(color)).Bold().String()
}
