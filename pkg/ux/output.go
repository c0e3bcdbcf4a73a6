// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders CLI output for qrng.
//
// A Printer writes either styled output (lipgloss colors, icons, boxes) for
// terminals or plain tab-separated lines for pipes and scripts. DetectMode
// picks one from the output file and the QRNG_OUTPUT environment variable.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// OutputEnv overrides terminal detection: "plain" or "styled".
const OutputEnv = "QRNG_OUTPUT"

// Palette - deep ocean teals.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Label     lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
	Bar       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Label:     lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	Bar: lipgloss.NewStyle().Foreground(ColorTealPrimary),
}

// Icon provides status icons.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// Mode selects how a Printer renders.
type Mode int

const (
	// ModeStyled renders colors, icons and boxes.
	ModeStyled Mode = iota

	// ModePlain renders undecorated, script-friendly lines.
	ModePlain
)

// DetectMode returns ModeStyled when f is a terminal, ModePlain otherwise.
// QRNG_OUTPUT=plain|styled takes precedence.
func DetectMode(f *os.File) Mode {
	switch strings.ToLower(os.Getenv(OutputEnv)) {
	case "plain":
		return ModePlain
	case "styled":
		return ModeStyled
	}
	if f != nil && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return ModeStyled
	}
	return ModePlain
}

// Printer writes CLI output.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode}
}

// Stdout returns a Printer for os.Stdout with detected mode.
func Stdout() *Printer {
	return NewPrinter(os.Stdout, DetectMode(os.Stdout))
}

// Mode returns the rendering mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

// Writer returns the underlying writer, for raw data output.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// Title prints a heading. Plain mode prints "# text".
func (p *Printer) Title(text string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "# %s\n", text)
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	p.status(IconSuccess, "OK", Styles.Success, text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	p.status(IconWarning, "WARN", Styles.Warning, text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	p.status(IconError, "ERROR", Styles.Error, text)
}

func (p *Printer) status(icon Icon, tag string, style lipgloss.Style, text string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "%s: %s\n", tag, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", style.Render(string(icon)), style.Render(text))
}

// Field is one row of a KeyValues table.
type Field struct {
	Key   string
	Value string
}

// KeyValues prints an aligned two-column table. Plain mode prints
// "key<TAB>value" lines.
func (p *Printer) KeyValues(fields []Field) {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Key))
	}
	for _, f := range fields {
		if p.mode == ModePlain {
			fmt.Fprintf(p.w, "%s\t%s\n", f.Key, f.Value)
			continue
		}
		key := fmt.Sprintf("%-*s", width+1, f.Key+":")
		fmt.Fprintf(p.w, "  %s %s\n", Styles.Label.Render(key), f.Value)
	}
}

// Bars prints one horizontal bar per label, scaled so the largest value
// spans width cells.
func (p *Printer) Bars(labels []string, values []int, width int) {
	peak := 0
	for _, v := range values {
		peak = max(peak, v)
	}
	lw := 0
	for _, l := range labels {
		lw = max(lw, len(l))
	}
	for i, l := range labels {
		v := values[i]
		if p.mode == ModePlain {
			fmt.Fprintf(p.w, "%s\t%d\n", l, v)
			continue
		}
		n := 0
		if peak > 0 {
			n = v * width / peak
		}
		fmt.Fprintf(p.w, "  %-*s %s %d\n", lw, l, Styles.Bar.Render(strings.Repeat("█", n)), v)
	}
}

// Box prints content in a rounded box under a title.
func (p *Printer) Box(title, content string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
}

// Line prints text unchanged in both modes.
func (p *Printer) Line(text string) {
	fmt.Fprintln(p.w, text)
}
