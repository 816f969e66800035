// Package ui renders crawl findings and recipes on the terminal.
package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"craftbot/internal/element"
	"craftbot/internal/recipe"
)

var (
	newStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	discoveryStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	improvementStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	mutedStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	resultStyle      = lipgloss.NewStyle().Bold(true)
)

// Printer writes crawl findings to a terminal.
type Printer struct {
	w       io.Writer
	dots    int
	pending bool // a dot line is open and needs a newline before other output
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Progress prints one dot per uneventful combination, wrapping the line.
func (p *Printer) Progress() {
	fmt.Fprint(p.w, ".")
	p.pending = true
	p.dots++
	if p.dots%80 == 0 {
		fmt.Fprintln(p.w)
		p.pending = false
	}
}

func (p *Printer) breakDots() {
	if p.pending {
		fmt.Fprintln(p.w)
		p.pending = false
		p.dots = 0
	}
}

// NewElement reports an element seen for the first time by this repository.
func (p *Printer) NewElement(el element.Element, pair element.Pair, depth int) {
	p.breakDots()
	fmt.Fprintf(p.w, "%s %s %s %s\n",
		el.Emoji,
		newStyle.Render(el.Text),
		mutedStyle.Render(fmt.Sprintf("(%d)", depth)),
		mutedStyle.Render("("+pair.String()+")"),
	)
}

// FirstDiscovery reports an element nobody on the planet had crafted before.
func (p *Printer) FirstDiscovery(el element.Element, pair element.Pair, depth int) {
	p.breakDots()
	fmt.Fprintf(p.w, "%s %s %s %s\n",
		el.Emoji,
		discoveryStyle.Render(el.Text+" (first discovery!)"),
		mutedStyle.Render(fmt.Sprintf("(%d)", depth)),
		mutedStyle.Render("("+pair.String()+")"),
	)
}

// Improvement reports a shallower path found for a known element.
func (p *Printer) Improvement(name string, pair element.Pair, oldDepth, newDepth int) {
	p.breakDots()
	fmt.Fprintf(p.w, "  %s %s %s\n",
		improvementStyle.Render(name),
		mutedStyle.Render(fmt.Sprintf("(%d -> %d)", oldDepth, newDepth)),
		mutedStyle.Render("("+pair.String()+")"),
	)
}

// Flush terminates a pending dot line.
func (p *Printer) Flush() {
	p.breakDots()
}

// RenderSteps renders a full recipe, one numbered combination per line, with
// the emoji of each element where known.
func RenderSteps(w io.Writer, steps []recipe.Step, emojis map[string]string) {
	decorate := func(name string) string {
		if emoji, ok := emojis[name]; ok && emoji != "" {
			return emoji + " " + name
		}
		return name
	}
	for i, s := range steps {
		fmt.Fprintf(w, "%3d. %s + %s = %s\n",
			i+1,
			decorate(s.First),
			decorate(s.Second),
			resultStyle.Render(decorate(s.Result)),
		)
	}
}
