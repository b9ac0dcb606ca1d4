package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/reefvm/reef/engine"
	"github.com/reefvm/reef/runtime"
	"github.com/reefvm/reef/wasm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2E8B57")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2E8B57"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	logStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#C0C0C0"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type interactiveModel struct {
	err      error
	rt       *runtime.Runtime
	module   *runtime.Module
	instance *runtime.Instance
	logs     *strings.Builder
	filename string
	result   string
	funcs    []funcInfo
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

type funcInfo struct {
	name string
	typ  wasm.FuncType
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(filename string, fuel uint64, depth int) *interactiveModel {
	m := &interactiveModel{
		filename: filename,
		state:    stateSelectFunc,
		logs:     &strings.Builder{},
	}
	m.rt = runtime.New(
		runtime.WithMaxFuel(fuel),
		runtime.WithMaxCallDepth(depth),
	)
	return m
}

type loadedMsg struct {
	err   error
	mod   *runtime.Module
	funcs []funcInfo
}

type callResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadModule
}

func (m *interactiveModel) loadModule() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}

	if err := runtime.RegisterHostModule(m.rt.Imports(), runtime.HostConfig{
		LogWriter: m.logs,
	}); err != nil {
		return loadedMsg{err: err}
	}

	mod, err := m.rt.LoadModule(data)
	if err != nil {
		return loadedMsg{err: err}
	}

	var funcs []funcInfo
	for _, exp := range mod.ExportedFunctions() {
		ft := mod.Wasm().GetFuncType(exp.Idx)
		if ft == nil {
			continue
		}
		funcs = append(funcs, funcInfo{name: exp.Name, typ: *ft})
	}
	sort.Slice(funcs, func(i, j int) bool { return funcs[i].name < funcs[j].name })

	return loadedMsg{funcs: funcs, mod: mod}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state != stateInputArgs || msg.String() == "ctrl+c" {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.funcs = msg.funcs
		m.module = msg.mod

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.typ.Params))
	for i, p := range f.typ.Params {
		ti := textinput.New()
		ti.Placeholder = p.String()
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callFunction() tea.Msg {
	ctx := context.Background()

	if m.instance == nil {
		if m.module == nil {
			return callResultMsg{err: fmt.Errorf("module not loaded")}
		}
		inst, err := m.rt.Instantiate(ctx, m.module)
		if err != nil {
			return callResultMsg{err: err}
		}
		m.instance = inst
	}

	f := m.funcs[m.selected]
	args := make([]engine.Value, len(m.inputs))
	for i, input := range m.inputs {
		v, err := parseValue(strings.TrimSpace(input.Value()), f.typ.Params[i])
		if err != nil {
			return callResultMsg{err: fmt.Errorf("arg%d: %w", i, err)}
		}
		args[i] = v
	}

	results, err := m.instance.Invoke(ctx, f.name, args...)
	if err != nil {
		return callResultMsg{err: err}
	}

	parts := make([]string, len(results))
	for i, v := range results {
		parts[i] = v.String()
	}
	if len(parts) == 0 {
		return callResultMsg{result: "(no results)"}
	}
	return callResultMsg{result: strings.Join(parts, ", ")}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.module == nil {
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("reef-run"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		if len(m.funcs) == 0 {
			b.WriteString("Module exports no functions.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			break
		}
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			cursor := "  "
			if i == m.selected {
				cursor = "> "
				b.WriteString(selectedStyle.Render(cursor + m.formatFunc(f)))
			} else {
				b.WriteString(cursor + m.formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(f.typ.Params[i].String()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		if m.logs.Len() > 0 {
			b.WriteString("\n\n")
			b.WriteString(logStyle.Render("--- log ---\n" + m.logs.String()))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatFunc(f funcInfo) string {
	var params []string
	for _, p := range f.typ.Params {
		params = append(params, typeStyle.Render(p.String()))
	}
	result := ""
	if len(f.typ.Results) > 0 {
		var rs []string
		for _, r := range f.typ.Results {
			rs = append(rs, typeStyle.Render(r.String()))
		}
		result = " -> " + strings.Join(rs, ", ")
	}
	return funcStyle.Render(f.name) + "(" + strings.Join(params, ", ") + ")" + result
}

func runInteractive(filename string, fuel uint64, depth int) error {
	p := tea.NewProgram(newInteractiveModel(filename, fuel, depth), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
