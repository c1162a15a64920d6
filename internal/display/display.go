// Package display renders the fleet as a colored table on the console.
package display

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"lego-hub-manager/internal/fleet"
	"lego-hub-manager/internal/hub"
)

type column struct {
	title string
	width int
}

var columns = []column{
	{"Tsk#", 5},
	{"Speed", 6},
	{"Name", 16},
	{"Address", 18},
	{"Battery", 8},
	{"State", 19},
}

// Terminal colors of the hub palette
var colorMap = map[hub.Color]lipgloss.Color{
	hub.ColorPink:      lipgloss.Color("#FF69B4"),
	hub.ColorPurple:    lipgloss.Color("#A020F0"),
	hub.ColorBlue:      lipgloss.Color("#3B82F6"),
	hub.ColorLightBlue: lipgloss.Color("#87CEEB"),
	hub.ColorCyan:      lipgloss.Color("#00CED1"),
	hub.ColorGreen:     lipgloss.Color("#22C55E"),
	hub.ColorYellow:    lipgloss.Color("#EAB308"),
	hub.ColorOrange:    lipgloss.Color("#F97316"),
	hub.ColorRed:       lipgloss.Color("#EF4444"),
	hub.ColorWhite:     lipgloss.Color("#F5F5F5"),
}

// Renderer formats snapshots as a table, one row per hub task
type Renderer struct {
	header lipgloss.Style
	muted  lipgloss.Style
}

func NewRenderer() *Renderer {
	return &Renderer{
		header: lipgloss.NewStyle().Bold(true).Underline(true),
		muted:  lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
	}
}

// Render returns the table for snap
func (r *Renderer) Render(snap fleet.Snapshot) string {
	var b strings.Builder

	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = r.header.Width(c.width).Render(c.title)
	}
	b.WriteString(strings.Join(header, " "))
	b.WriteByte('\n')

	for _, s := range snap.Sessions {
		b.WriteString(r.row(s, snap))
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "%d connected", snap.Connected)
	if snap.Scanning {
		fmt.Fprintf(&b, ", scanning until %s", snap.ScanUntil.Format(time.TimeOnly))
	}
	b.WriteByte('\n')
	return b.String()
}

func (r *Renderer) row(s fleet.SessionSnapshot, snap fleet.Snapshot) string {
	cells := []string{fmt.Sprintf("%d", s.ID), "", "", "", "", string(s.State)}
	style := r.muted

	if s.Slot >= 0 && s.Slot < len(snap.Slots) {
		slot := snap.Slots[s.Slot]
		speed := int8(0)
		if slot.Channel < len(snap.Speeds) {
			speed = snap.Speeds[slot.Channel]
		}
		cells[1] = fmt.Sprintf("%d", speed)
		cells[2] = slot.Name
		cells[3] = slot.Address.String()
		cells[4] = fmt.Sprintf("%d%%", slot.Battery)
		if slot.IsRemote {
			cells[1] = "R"
		}
		style = lipgloss.NewStyle().Foreground(colorMap[hub.ChannelColor(slot.Channel)])
	}

	out := make([]string, len(cells))
	for i, cell := range cells {
		out[i] = style.Width(columns[i].width).MaxWidth(columns[i].width).Render(cell)
	}
	return strings.Join(out, " ")
}

// Run writes a fresh table every interval until ctx is done
func (r *Renderer) Run(ctx context.Context, out io.Writer, interval time.Duration, source func() fleet.Snapshot) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(out, r.Render(source()))
		}
	}
}
