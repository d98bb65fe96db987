package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/normanking/concierge/internal/router"
)

const defaultWrapWidth = 100

// printer writes command output, styled when stdout is a color terminal.
type printer struct {
	out   io.Writer
	color bool
	width int

	dim    lipgloss.Style
	accent lipgloss.Style
	warn   lipgloss.Style
}

func newPrinter(f *os.File) *printer {
	output := termenv.NewOutput(f)
	profile := output.EnvColorProfile()
	lipgloss.SetColorProfile(profile)

	return &printer{
		out:    f,
		color:  profile != termenv.Ascii,
		width:  defaultWrapWidth,
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		accent: lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true),
		warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

// note prints a dim status line.
func (p *printer) note(format string, args ...any) {
	fmt.Fprintln(p.out, p.dim.Render(fmt.Sprintf(format, args...)))
}

func (p *printer) decision(d *router.Decision) {
	if d == nil {
		return
	}
	fmt.Fprintf(p.out, "%s %s\n",
		p.accent.Render("→ "+d.Agent.String()),
		p.dim.Render(fmt.Sprintf("%.2f %s · %s", d.Confidence, d.Source, d.Rationale)))
}

// markdown renders md with glamour on color terminals and returns it
// unchanged otherwise.
func (p *printer) markdown(md string) string {
	if !p.color || strings.TrimSpace(md) == "" {
		return md
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(p.width),
	)
	if err != nil {
		return md
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return strings.Trim(rendered, "\n")
}
