package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/trackline/internal/models"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
	label lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
		label: NewStyle(h).Width(10),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

// Status renders a track status in its color.
func (p *Palette) Status(s models.Status) string {
	switch s {
	case models.StatusCompleted:
		return p.ok.Render(string(s))
	case models.StatusFailed:
		return p.err.Render(string(s))
	case models.StatusStopped:
		return p.warn.Render(string(s))
	case models.StatusProcessing:
		return p.title.UnsetMarginBottom().Render(string(s))
	default:
		return p.help.Render(string(s))
	}
}

// Progress renders an import session status in its color.
func (p *Palette) Progress(s models.ProgressStatus) string {
	switch s {
	case models.ProgressCompleted:
		return p.ok.Render(string(s))
	case models.ProgressFailed:
		return p.err.Render(string(s))
	default:
		return p.warn.Render(string(s))
	}
}
