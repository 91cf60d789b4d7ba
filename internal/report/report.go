// Package report renders cache state for the terminal.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/gophersatwork/buildcache"
	"github.com/gophersatwork/buildcache/internal/pipeline"
	"github.com/gophersatwork/buildcache/openapi"
)

// Printer writes styled reports. Colour is only used when the destination
// is a terminal.
type Printer struct {
	w io.Writer

	title   lipgloss.Style
	label   lipgloss.Style
	dim     lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
	added   lipgloss.Style
	removed lipgloss.Style
}

// New creates a Printer for w.
func New(w io.Writer) *Printer {
	profile := termenv.Ascii
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		profile = termenv.NewOutput(f).EnvColorProfile()
	}
	return newPrinter(w, profile)
}

// NewPlain creates a Printer that never emits escape sequences.
func NewPlain(w io.Writer) *Printer {
	return newPrinter(w, termenv.Ascii)
}

func newPrinter(w io.Writer, profile termenv.Profile) *Printer {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(profile)

	return &Printer{
		w:       w,
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")),
		label:   r.NewStyle().Bold(true),
		dim:     r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		ok:      r.NewStyle().Foreground(lipgloss.Color("#16A34A")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("#D97706")),
		bad:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#DC2626")),
		added:   r.NewStyle().Foreground(lipgloss.Color("#16A34A")),
		removed: r.NewStyle().Foreground(lipgloss.Color("#DC2626")),
	}
}

func (p *Printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

// Stats prints cache totals followed by one line per entry.
func (p *Printer) Stats(root string, s buildcache.Stats, entries []buildcache.Entry) {
	p.printf("%s\n", p.title.Render("Build cache"))
	p.printf("  %s %s\n", p.label.Render("Location: "), root)
	p.printf("  %s %d (%d valid, %d with snapshot)\n", p.label.Render("Targets:  "), s.Targets, s.Valid, s.Snapshots)
	p.printf("  %s %s\n", p.label.Render("Size:     "), humanize.Bytes(uint64(s.TotalSize)))
	if s.Targets > 0 {
		p.printf("  %s %s / %s\n", p.label.Render("Age:      "), age(s.Newest), age(s.Oldest))
	}

	if len(s.Categories) > 0 {
		cats := make([]string, 0, len(s.Categories))
		for c := range s.Categories {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		parts := make([]string, 0, len(cats))
		for _, c := range cats {
			parts = append(parts, fmt.Sprintf("%s=%d", c, s.Categories[c]))
		}
		p.printf("  %s %s\n", p.label.Render("Categories:"), strings.Join(parts, " "))
	}

	if len(entries) == 0 {
		return
	}

	p.printf("\n")
	width := 0
	for _, e := range entries {
		width = max(width, len(e.Name))
	}
	for _, e := range entries {
		status := p.ok.Render(e.Status)
		if e.Status != buildcache.StatusValid {
			status = p.warn.Render(orDash(e.Status))
		}
		built := "never"
		if !e.LastBuilt.IsZero() {
			built = humanize.RelTime(e.LastBuilt, e.LastBuilt.Add(e.Age), "ago", "from now")
		}
		snap := ""
		if e.SnapshotKind != "" {
			snap = fmt.Sprintf(" snapshot=%s (%s)", e.SnapshotKind, humanize.Bytes(uint64(e.SnapshotSize)))
		}
		p.printf("  %-*s  %s  %s%s\n", width, e.Name, status,
			p.dim.Render(fmt.Sprintf("%s, %d inputs, %d outputs", built, e.Inputs, e.Outputs)), snap)
	}
}

// Validation prints the outcome of Cache.Validate and reports whether the
// cache is healthy.
func (p *Printer) Validation(err error) bool {
	if err == nil {
		p.printf("%s\n", p.ok.Render("Cache is valid"))
		return true
	}

	var ve *buildcache.ValidationError
	if !errors.As(err, &ve) {
		p.printf("%s %v\n", p.bad.Render("Validation failed:"), err)
		return false
	}

	p.printf("%s\n", p.bad.Render(fmt.Sprintf("%d problem(s) found", len(ve.Errors))))
	for _, e := range ve.Errors {
		var issue *buildcache.Issue
		if !errors.As(e, &issue) {
			p.printf("  - %v\n", e)
			continue
		}
		target := issue.Target
		if target == "" {
			target = "cache"
		}
		p.printf("  - %s %s %s\n", p.label.Render(target), p.warn.Render("["+string(issue.Kind)+"]"), issue.Detail)
		if issue.Diff != "" {
			p.UnifiedDiff(issue.Diff)
		}
	}
	return false
}

// UnifiedDiff prints a unified diff with added and removed lines coloured.
func (p *Printer) UnifiedDiff(diff string) {
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"), strings.HasPrefix(line, "@@"):
			line = p.dim.Render(line)
		case strings.HasPrefix(line, "+"):
			line = p.added.Render(line)
		case strings.HasPrefix(line, "-"):
			line = p.removed.Render(line)
		}
		p.printf("      %s\n", line)
	}
}

// Prune prints what a prune removed.
func (p *Printer) Prune(days int, res buildcache.PruneResult) {
	if res.Removed == 0 {
		p.printf("No entries older than %d days\n", days)
		return
	}
	p.printf("%s %d entries, freed %s\n", p.title.Render("Pruned"), res.Removed, humanize.Bytes(uint64(max(res.FreedBytes, 0))))
	for _, name := range res.Targets {
		p.printf("  - %s\n", name)
	}
}

// Results prints one line per pipeline result.
func (p *Printer) Results(results []pipeline.Result) {
	built, cached := 0, 0
	for _, r := range results {
		var state string
		switch {
		case r.Built:
			built++
			state = p.warn.Render("built   ")
		case r.Restored:
			cached++
			state = p.ok.Render("restored")
		default:
			cached++
			state = p.ok.Render("cached  ")
		}
		p.printf("  %s %s %s\n", state, r.Target, p.dim.Render(fmt.Sprintf("(%s, %s)", r.Decision, r.Elapsed.Round(time.Millisecond))))
		if r.Plan != nil && r.Plan.Diff != nil && !r.Plan.Diff.Empty() {
			p.OperationDiff(*r.Plan.Diff)
		}
	}
	p.printf("%s %d built, %d from cache\n", p.title.Render("Done:"), built, cached)
}

// OperationDiff prints an OpenAPI operation diff.
func (p *Printer) OperationDiff(d openapi.Diff) {
	if d.Empty() {
		p.printf("      %s\n", p.dim.Render("no operation changes"))
		return
	}
	for _, k := range d.Added {
		p.printf("      %s\n", p.added.Render("+ "+k))
	}
	for _, k := range d.Changed {
		p.printf("      %s\n", p.warn.Render("~ "+k))
	}
	for _, k := range d.Removed {
		p.printf("      %s\n", p.removed.Render("- "+k))
	}
}

func age(d time.Duration) string {
	if d <= 0 {
		return "just now"
	}
	now := time.Now()
	return humanize.RelTime(now.Add(-d), now, "ago", "from now")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
