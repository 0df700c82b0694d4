// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/femrun/pkg/ux"
	"github.com/AleutianAI/femrun/services/femrun/events"
	"github.com/AleutianAI/femrun/services/femrun/machine"
)

// Messages fed into the progress program from machine events.
type (
	stageStartedMsg struct {
		machine string
		stage   machine.Stage
	}
	solverLineMsg struct {
		machine string
		line    string
	}
	machineStoppedMsg struct {
		status machine.Status
	}
	allDoneMsg struct{}
)

type progressRow struct {
	name    string
	stage   machine.Stage
	running bool
	failed  bool
	aborted bool
	last    string
}

// progressModel shows one line per machine: a spinner while it runs, the
// stage it is in and the latest solver output line.
type progressModel struct {
	spinner     spinner.Model
	rows        []progressRow
	index       map[string]int
	interrupted bool
}

func newProgressModel(ms []*machine.Machine) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = ux.Styles.Title
	m := progressModel{spinner: s, index: make(map[string]int, len(ms))}
	for i, mc := range ms {
		m.rows = append(m.rows, progressRow{name: mc.Name(), stage: mc.Stage()})
		m.index[mc.Name()] = i
	}
	return m
}

func (m progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			m.interrupted = true
			return m, tea.Quit
		}
	case stageStartedMsg:
		if i, ok := m.index[msg.machine]; ok {
			m.rows[i].stage = msg.stage
			m.rows[i].running = true
		}
	case solverLineMsg:
		if i, ok := m.index[msg.machine]; ok {
			m.rows[i].last = msg.line
		}
	case machineStoppedMsg:
		if i, ok := m.index[msg.status.Name]; ok {
			r := &m.rows[i]
			r.stage = msg.status.Stage
			r.running = false
			r.failed = msg.status.Failed
			r.aborted = msg.status.Aborted
		}
	case allDoneMsg:
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	width := 0
	for _, r := range m.rows {
		width = max(width, lipgloss.Width(r.name))
	}
	var b strings.Builder
	for _, r := range m.rows {
		icon := ux.IconPending.Render()
		switch {
		case r.running:
			icon = m.spinner.View()
		case r.failed:
			icon = ux.IconError.Render()
		case r.aborted:
			icon = ux.IconWarning.Render()
		case r.stage == machine.StageDone:
			icon = ux.IconSuccess.Render()
		}
		name := lipgloss.NewStyle().Width(width).Render(r.name)
		stage := lipgloss.NewStyle().Width(8).Render(r.stage.String())
		fmt.Fprintf(&b, "%s %s  %s %s\n", icon, name, stage, ux.Styles.Muted.Render(r.last))
	}
	if m.interrupted {
		b.WriteString(ux.Styles.Warning.Render("aborting...") + "\n")
	}
	return b.String()
}

// feedProgress forwards machine events to p. The returned function
// removes the subscriptions.
func feedProgress(p *tea.Program, ms []*machine.Machine) func() {
	var undo []func()
	for _, mc := range ms {
		name := mc.Name()
		for s := machine.StageCheck; s < machine.StageDone; s++ {
			st := mc.StageTask(s)
			id := st.Subscribe(func(*events.Event) {
				p.Send(stageStartedMsg{machine: name, stage: s})
			}, events.TypeStarted)
			undo = append(undo, func() { st.Events().Unsubscribe(id) })
		}
		solveTask := mc.StageTask(machine.StageSolve)
		lineID := solveTask.Subscribe(func(e *events.Event) {
			if d, ok := e.Data.(events.LineData); ok {
				p.Send(solverLineMsg{machine: name, line: d.Line})
			}
		}, events.TypeLine)
		stopID := mc.Subscribe(func(*events.Event) {
			p.Send(machineStoppedMsg{status: mc.Status()})
		}, events.TypeStopped)
		undo = append(undo,
			func() { solveTask.Events().Unsubscribe(lineID) },
			func() { mc.Events().Unsubscribe(stopID) },
		)
	}
	return func() {
		for _, fn := range undo {
			fn()
		}
	}
}

// runWithProgress is runAll with a live terminal view on w. Quitting the
// view aborts the machines still running.
func runWithProgress(ctx context.Context, ms []*machine.Machine, target machine.Stage, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(ms), tea.WithOutput(w), tea.WithoutSignalHandler())
	defer feedProgress(p, ms)()

	result := make(chan error, 1)
	go func() {
		result <- runAll(ctx, ms, target)
		p.Send(allDoneMsg{})
	}()

	_, err := p.Run()
	cancel()
	if runErr := <-result; runErr != nil {
		return runErr
	}
	return err
}
