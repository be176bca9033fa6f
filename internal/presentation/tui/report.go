package tui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/charmbracelet/glamour"
)

// Report describes a process as Markdown.
func Report(s *domain.ProcessState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Process `%s`\n\n", s.ID)
	fmt.Fprintf(&b, "- **Flow:** %s\n", s.Flow)
	fmt.Fprintf(&b, "- **Status:** %s\n", s.Status)
	fmt.Fprintf(&b, "- **Created:** %s\n", s.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Updated:** %s\n", s.UpdatedAt.Format(time.RFC3339))
	if s.Error != nil {
		fmt.Fprintf(&b, "\n## Error\n\n**%s**: %s", s.Error.Kind, s.Error.Message)
		if s.Error.Step != "" {
			fmt.Fprintf(&b, " (at `%s`)", s.Error.Step)
		}
		b.WriteString("\n")
	}

	if len(s.Suspensions) > 0 {
		b.WriteString("\n## Waiting For\n\n| Event | Reason | Detail |\n|---|---|---|\n")
		for _, sp := range s.Suspensions {
			detail := ""
			switch {
			case sp.Form != "":
				detail = "form " + sp.Form
			case sp.WakeAt != nil:
				detail = "wakes " + sp.WakeAt.Format(time.RFC3339)
			}
			fmt.Fprintf(&b, "| `%s` | %s | %s |\n", sp.Event, sp.Reason, detail)
		}
	}

	if len(s.Variables) > 0 {
		b.WriteString("\n## Variables\n\n| Name | Value |\n|---|---|\n")
		names := make([]string, 0, len(s.Variables))
		for k := range s.Variables {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			fmt.Fprintf(&b, "| %s | `%s` |\n", k, inline(s.Variables[k]))
		}
	}

	if len(s.Lanes) > 0 {
		b.WriteString("\n## Lanes\n\n")
		for _, l := range s.Lanes {
			fmt.Fprintf(&b, "- `%s` %s, %d frames\n", l.ID, l.Status, len(l.Frames))
		}
	}
	return b.String()
}

// Render formats Markdown for the terminal, picking a light or dark style
// from the background.
func Render(markdown string, width int) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", err
	}
	return r.Render(markdown)
}

func inline(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	s := strings.ReplaceAll(string(data), "|", "\\|")
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
