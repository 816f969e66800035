package paths

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"craftbot/internal/element"
)

// Stats summarizes the depth distribution of a path map.
type Stats struct {
	Total       int
	DepthCounts []int // index is depth; DepthCounts[0] is the four roots
	Cumulative  []int // elements reachable within depth d
	MaxDepth    int
	MeanDepth   float64
	StdDev      float64
	Quartiles   [3]float64 // 25th, 50th (median), 75th percentile
	ModeDepth   int        // most common depth
	Deepest     []string   // deepest elements first, at most ten
}

// Describe computes depth statistics over a path map.
func Describe(paths map[string]element.Path) Stats {
	s := Stats{Total: len(paths)}
	if len(paths) == 0 {
		return s
	}

	type depthEntry struct {
		name  string
		depth int
	}
	entries := make([]depthEntry, 0, len(paths))
	for name, p := range paths {
		entries = append(entries, depthEntry{name, p.Depth()})
		if p.Depth() > s.MaxDepth {
			s.MaxDepth = p.Depth()
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].depth != entries[j].depth {
			return entries[i].depth > entries[j].depth
		}
		return entries[i].name < entries[j].name
	})

	s.DepthCounts = make([]int, s.MaxDepth+1)
	var sum int
	for _, e := range entries {
		s.DepthCounts[e.depth]++
		sum += e.depth
	}
	s.Cumulative = make([]int, s.MaxDepth+1)
	running := 0
	for d, n := range s.DepthCounts {
		running += n
		s.Cumulative[d] = running
		if n > s.DepthCounts[s.ModeDepth] {
			s.ModeDepth = d
		}
	}
	s.MeanDepth = float64(sum) / float64(len(entries))

	var variance float64
	for _, e := range entries {
		d := float64(e.depth) - s.MeanDepth
		variance += d * d
	}
	s.StdDev = math.Sqrt(variance / float64(len(entries)))

	// entries are sorted by depth descending; percentile over the ascending view
	percentile := func(q float64) float64 {
		pos := q * float64(len(entries)-1)
		lo := int(pos)
		asc := func(i int) float64 { return float64(entries[len(entries)-1-i].depth) }
		if lo == len(entries)-1 {
			return asc(lo)
		}
		frac := pos - float64(lo)
		return asc(lo)*(1-frac) + asc(lo+1)*frac
	}
	s.Quartiles = [3]float64{percentile(0.25), percentile(0.5), percentile(0.75)}

	top := 10
	if len(entries) < top {
		top = len(entries)
	}
	for _, e := range entries[:top] {
		s.Deepest = append(s.Deepest, e.name)
	}
	return s
}

// String renders the stats as a small report.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "elements with a path: %d\n", s.Total)
	fmt.Fprintf(&b, "depth: mean %.2f, std %.2f, max %d, most common %d\n", s.MeanDepth, s.StdDev, s.MaxDepth, s.ModeDepth)
	fmt.Fprintf(&b, "quartiles: %.1f / %.1f / %.1f\n", s.Quartiles[0], s.Quartiles[1], s.Quartiles[2])
	for d, n := range s.DepthCounts {
		fmt.Fprintf(&b, "depth %3d: %6d (cumulative %d)\n", d, n, s.Cumulative[d])
	}
	if len(s.Deepest) > 0 {
		fmt.Fprintf(&b, "deepest: %s\n", strings.Join(s.Deepest, ", "))
	}
	return b.String()
}

// HistogramSVG renders the depth distribution as an SVG bar chart.
func HistogramSVG(s Stats) ([]byte, error) {
	p := plot.New()
	p.Title.Text = "Element depth distribution"
	p.X.Label.Text = "Depth"
	p.Y.Label.Text = "Elements"

	values := make(plotter.Values, len(s.DepthCounts))
	labels := make([]string, len(s.DepthCounts))
	for d, n := range s.DepthCounts {
		values[d] = float64(n)
		if d%5 == 0 {
			labels[d] = fmt.Sprint(d)
		}
	}

	bars, err := plotter.NewBarChart(values, vg.Points(8))
	if err != nil {
		return nil, fmt.Errorf("build bar chart: %w", err)
	}
	bars.LineStyle.Width = 0
	p.Add(bars)
	p.NominalX(labels...)

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "svg")
	if err != nil {
		return nil, fmt.Errorf("render histogram: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
