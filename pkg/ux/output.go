// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux holds the terminal styling shared by femrun's command line.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme colors
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconInfo    Icon = "│"
)

// Render returns the icon with its color applied.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending, IconInfo:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes status lines to a writer. A plain printer emits
// "LEVEL: text" lines suitable for pipes and log scrapers.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter returns a printer writing to w.
func NewPrinter(w io.Writer, styled bool) *Printer {
	return &Printer{w: w, styled: styled}
}

// Styled reports whether the printer emits colors.
func (p *Printer) Styled() bool {
	return p.styled
}

func (p *Printer) line(icon Icon, style lipgloss.Style, plainPrefix, text string) error {
	var err error
	if p.styled {
		_, err = fmt.Fprintf(p.w, "%s %s\n", icon.Render(), style.Render(text))
	} else {
		_, err = fmt.Fprintf(p.w, "%s: %s\n", plainPrefix, text)
	}
	return err
}

func (p *Printer) Info(text string) error {
	return p.line(IconInfo, lipgloss.NewStyle(), "INFO", text)
}

func (p *Printer) Warning(text string) error {
	return p.line(IconWarning, Styles.Warning, "WARN", text)
}

func (p *Printer) Error(text string) error {
	return p.line(IconError, Styles.Error, "ERROR", text)
}

func (p *Printer) Success(text string) error {
	return p.line(IconSuccess, Styles.Success, "OK", text)
}

// Title writes a heading.
func (p *Printer) Title(text string) error {
	if !p.styled {
		_, err := fmt.Fprintf(p.w, "== %s ==\n", text)
		return err
	}
	_, err := fmt.Fprintln(p.w, Styles.Title.Render(text))
	return err
}

// Box writes content in a rounded box under a title.
func (p *Printer) Box(title, content string) error {
	if !p.styled {
		_, err := fmt.Fprintf(p.w, "%s:\n%s\n", title, content)
		return err
	}
	_, err := fmt.Fprintln(p.w, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
	return err
}

// Progress renders a bar for current out of total steps.
func (p *Printer) Progress(current, total, width int) string {
	if total <= 0 {
		total = 1
	}
	current = max(0, min(current, total))
	if !p.styled {
		return fmt.Sprintf("%d/%d", current, total)
	}
	filled := current * width / total
	return Styles.Success.Render(strings.Repeat("█", filled)) +
		Styles.Muted.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %d/%d", current, total)
}
