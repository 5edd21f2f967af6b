package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

type stressModel struct {
	err      error
	run      *stressRun
	result   *stressResult
	spinner  spinner.Model
	progress progress.Model
	started  time.Time
	done     bool
}

type tickMsg time.Time

type stressDoneMsg struct {
	err    error
	result stressResult
}

func newStressModel(run *stressRun) *stressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = keyStyle

	return &stressModel{
		run:      run,
		spinner:  sp,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(48)),
		started:  time.Now(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *stressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func (m *stressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stressDoneMsg:
		m.done = true
		m.err = msg.err
		if msg.err == nil {
			res := msg.result
			m.result = &res
			m.err = res.check()
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m *stressModel) fraction() float64 {
	total := m.run.total()
	if total == 0 {
		return 1
	}
	return float64(m.run.progress.Load()) / float64(total)
}

func (m *stressModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Stress"))
	fmt.Fprintf(&b, " %d workers x %d pairs\n\n", m.run.opts.workers, m.run.opts.iterations)

	if !m.done {
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
	}
	b.WriteString(m.progress.ViewAs(m.fraction()))
	fmt.Fprintf(&b, "  %s\n\n", helpStyle.Render(time.Since(m.started).Round(time.Millisecond).String()))

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render("FAIL " + m.err.Error()))
		b.WriteString("\n")
	case m.result != nil:
		fmt.Fprintf(&b, "%s %d teardown, final refCount %d\n",
			okStyle.Render("ok"), m.result.teardowns, m.result.finalCount)
	default:
		b.WriteString(helpStyle.Render("q quit"))
		b.WriteString("\n")
	}
	return b.String()
}

func runStressInteractive(ctx context.Context, e *env, run *stressRun) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newStressModel(run)
	p := tea.NewProgram(m)

	go func() {
		res, err := run.run(ctx, e)
		p.Send(stressDoneMsg{result: res, err: err})
	}()

	if _, err := p.Run(); err != nil {
		return err
	}
	if !m.done {
		return context.Canceled
	}
	return m.err
}
