package view

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/roach88/mercury/internal/layout"
	"github.com/roach88/mercury/internal/mercury"
	"github.com/roach88/mercury/internal/notebook"
)

const (
	// DefaultWidth is used when the terminal width is unknown.
	DefaultWidth = 80

	minSidebarWidth = 16
	minMainWidth    = 24
)

type styles struct {
	region  lipgloss.Style
	label   lipgloss.Style
	header  lipgloss.Style
	source  lipgloss.Style
	control lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
	modal   lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		region: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240")),
		label:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		source:  lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		control: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		failure: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		muted:   lipgloss.NewStyle().Faint(true),
		modal: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("9")).
			Padding(1, 2),
	}
}

// Render draws the three regions of snap into a block width columns wide.
// Hidden side regions take no space.
func Render(snap layout.Snapshot, width int) string {
	if width <= 0 {
		width = DefaultWidth
	}
	st := defaultStyles()

	top := renderRegion(st, mercury.RegionMain, snap.Main, width)
	if len(snap.Sidebar) > 0 {
		sw := sidebarWidth(snap.Sizes.Sidebar, width)
		top = lipgloss.JoinHorizontal(lipgloss.Top,
			renderRegion(st, mercury.RegionSidebar, snap.Sidebar, sw),
			renderRegion(st, mercury.RegionMain, snap.Main, width-sw),
		)
	}
	if len(snap.Bottom) == 0 {
		return top
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		top,
		renderRegion(st, mercury.RegionBottom, snap.Bottom, width),
	)
}

// sidebarWidth converts the sidebar proportion to columns, leaving room
// for the main column.
func sidebarWidth(ratio float64, width int) int {
	if ratio <= 0 {
		ratio = layout.DefaultSidebarWidth
	}
	sw := int(float64(width) * ratio)
	if sw < minSidebarWidth {
		sw = minSidebarWidth
	}
	if width-sw < minMainWidth {
		sw = width - minMainWidth
	}
	if sw < 0 {
		sw = 0
	}
	return sw
}

func renderRegion(st styles, r mercury.Region, entries []layout.Entry, width int) string {
	// The border takes one column on each side.
	inner := width - 2
	if inner < 1 {
		inner = 1
	}

	parts := []string{st.label.Render(string(r))}
	if len(entries) == 0 {
		parts = append(parts, st.muted.Render("(empty)"))
	}
	for _, e := range entries {
		parts = append(parts, renderEntry(st, e))
	}
	return st.region.Width(inner).Render(strings.Join(parts, "\n"))
}

func renderEntry(st styles, e layout.Entry) string {
	lines := []string{st.header.Render(entryTag(e) + " " + e.CellID)}
	if e.ShowInput {
		if src := strings.TrimRight(e.Source, "\n"); src != "" {
			lines = append(lines, st.source.Render(src))
		}
	}
	for _, o := range e.Outputs {
		if line := renderOutput(st, o); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func entryTag(e layout.Entry) string {
	switch {
	case e.Kind == notebook.KindMarkdown:
		return "[md]"
	case e.Kind == notebook.KindRaw:
		return "[raw]"
	case e.Role == layout.RoleInput:
		return "[in]"
	case e.Role == layout.RoleOutput:
		return "[out]"
	default:
		return "[code]"
	}
}

func renderOutput(st styles, o notebook.Output) string {
	if p, ok, err := mercury.PayloadOf(o); ok {
		if err != nil {
			return st.failure.Render("◆ malformed control")
		}
		name := p.Widget
		if name == "" {
			name = "control"
		}
		if p.ModelID != "" {
			name += " (" + p.ModelID + ")"
		}
		return st.control.Render("◆ " + name)
	}

	switch o.Type {
	case "stream":
		return strings.TrimRight(o.Text, "\n")
	case "error":
		return st.failure.Render(fmt.Sprintf("%s: %s", o.ErrorName, o.ErrorValue))
	}

	if raw, ok := o.Data["text/plain"]; ok {
		return strings.TrimRight(plainText(raw), "\n")
	}
	if len(o.Data) == 0 {
		return ""
	}
	mimes := make([]string, 0, len(o.Data))
	for m := range o.Data {
		mimes = append(mimes, m)
	}
	sort.Strings(mimes)
	return st.muted.Render("<" + mimes[0] + ">")
}

// plainText decodes an nbformat text value, which is either a string or a
// list of lines.
func plainText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.Join(lines, "")
	}
	return string(raw)
}
