package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/haivivi/memrecall/pkg/lexical"
	"github.com/haivivi/memrecall/pkg/metrics"
	"github.com/haivivi/memrecall/pkg/recall"
)

// Theme defines the color scheme for rendered reports.
type Theme struct {
	Primary lipgloss.Color // Main accent color
	Warn    lipgloss.Color // Degrade reasons
	Dim     lipgloss.Color // Scores and ids
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Warn:    lipgloss.Color("#ffb86c"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Warn  lipgloss.Style
	Dim   lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Warn:  lipgloss.NewStyle().Foreground(t.Warn),
		Dim:   lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// MaxLineWidth bounds the text part of each rendered line.
const MaxLineWidth = 96

// RenderResult renders a recall result as a sectioned terminal report.
func RenderResult(r *recall.Result, s Styles) string {
	var b strings.Builder
	rec := r.Metrics
	if rec == nil {
		rec = &metrics.Record{}
	}

	b.WriteString(s.Title.Render("recall " + string(rec.Outcome)))
	b.WriteString(s.Dim.Render(fmt.Sprintf("  %s  %s", rec.RecallID, FormatDuration(r.ElapsedMs))))
	b.WriteByte('\n')
	if len(rec.Reasons) > 0 {
		b.WriteString(s.Warn.Render("degraded: " + strings.Join(rec.Reasons, ", ")))
		b.WriteByte('\n')
	}
	if len(r.FocusTerms) > 0 || len(r.FocusCharacters) > 0 {
		fmt.Fprintf(&b, "focus: %s", strings.Join(r.FocusTerms, " "))
		if len(r.FocusCharacters) > 0 {
			fmt.Fprintf(&b, "  characters: %s", strings.Join(r.FocusCharacters, ", "))
		}
		b.WriteByte('\n')
	}

	section(&b, s, "Events", len(r.Events))
	for _, h := range r.Events {
		fmt.Fprintf(&b, "  %s %s %s\n",
			s.Dim.Render(fmt.Sprintf("%.3f", h.Similarity)),
			Truncate(h.Event.Title+": "+h.Event.Summary, MaxLineWidth),
			s.Dim.Render("["+string(h.Source)+"]"))
	}

	section(&b, s, "Causal chain", len(r.CausalChain))
	for _, l := range r.CausalChain {
		fmt.Fprintf(&b, "  %s %s %s\n",
			s.Dim.Render(fmt.Sprintf("d%d", l.Depth)),
			Truncate(l.Event.Title+": "+l.Event.Summary, MaxLineWidth),
			s.Dim.Render("<- "+strings.Join(l.ChainFrom, ",")))
	}

	section(&b, s, "L0 atoms", len(r.L0Selected))
	for _, h := range r.L0Selected {
		score := h.RerankScore
		if h.Source == recall.SourceDiffusion {
			score = h.DiffusionScore
		}
		fmt.Fprintf(&b, "  %s #%d %s %s\n",
			s.Dim.Render(fmt.Sprintf("%.3f", score)),
			h.Atom.Floor,
			Truncate(h.Atom.Semantic, MaxLineWidth),
			s.Dim.Render("["+string(h.Source)+"]"))
	}

	floors := make([]int, 0, len(r.L1ByFloor))
	for f := range r.L1ByFloor {
		floors = append(floors, f)
	}
	slices.Sort(floors)
	section(&b, s, "L1 evidence", len(floors))
	for _, f := range floors {
		fc := r.L1ByFloor[f]
		marker := ""
		if slices.Contains(r.MustKeepFloors, f) {
			marker = s.Warn.Render(" must-keep")
		}
		fmt.Fprintf(&b, "  #%d%s\n", f, marker)
		if fc.User != nil {
			fmt.Fprintf(&b, "    %s %s\n", s.Label.Render("user"), Truncate(fc.User.Chunk.Text, MaxLineWidth))
		}
		if fc.AI != nil {
			fmt.Fprintf(&b, "    %s %s\n", s.Label.Render("ai  "), Truncate(fc.AI.Chunk.Text, MaxLineWidth))
		}
	}

	if len(rec.Stages) > 0 {
		parts := make([]string, len(rec.Stages))
		for i, st := range rec.Stages {
			parts[i] = fmt.Sprintf("%s %s", st.Name, FormatDuration(st.Ms))
		}
		b.WriteString(s.Dim.Render(strings.Join(parts, " · ")))
		b.WriteByte('\n')
	}
	return b.String()
}

func section(b *strings.Builder, s Styles, label string, n int) {
	b.WriteByte('\n')
	b.WriteString(s.Label.Render(label))
	b.WriteString(s.Dim.Render(fmt.Sprintf(" (%d)", n)))
	b.WriteByte('\n')
}

// RenderTerms renders index terms with their document frequency and IDF.
func RenderTerms(terms []lexical.TermStat, s Styles) string {
	var b strings.Builder
	width := 0
	for _, t := range terms {
		width = max(width, lipgloss.Width(t.Term))
	}
	for _, t := range terms {
		pad := strings.Repeat(" ", width-lipgloss.Width(t.Term))
		fmt.Fprintf(&b, "%s%s  %s\n", s.Label.Render(t.Term), pad,
			s.Dim.Render(fmt.Sprintf("df=%d idf=%.3f", t.DF, t.IDF)))
	}
	return b.String()
}

// Truncate shortens s to at most width display cells, appending an
// ellipsis when cut. Newlines are flattened.
func Truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	var b strings.Builder
	w := 0
	for _, r := range s {
		rw := lipgloss.Width(string(r))
		if w+rw > width-1 {
			break
		}
		b.WriteRune(r)
		w += rw
	}
	return b.String() + "…"
}
