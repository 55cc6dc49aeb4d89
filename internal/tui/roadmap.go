// Package tui provides a Bubble Tea viewer for generated roadmaps.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"codepods/internal/roadmap"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	phaseStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	activePhaseStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("62"))

	weekStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Strikethrough(true)

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// ── Keys ────────────

type keyMap struct {
	Up       key.Binding
	Down     key.Binding
	NextStep key.Binding
	PrevStep key.Binding
	Toggle   key.Binding
	Quit     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.NextStep, k.PrevStep, k.Toggle, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	NextStep: key.NewBinding(key.WithKeys("tab", "right", "l"), key.WithHelp("→", "next phase")),
	PrevStep: key.NewBinding(key.WithKeys("shift+tab", "left", "h"), key.WithHelp("←", "prev phase")),
	Toggle:   key.NewBinding(key.WithKeys("enter", " ", "x"), key.WithHelp("space", "tick")),
	Quit:     key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

// ── Model ────────────

// row is one task in the flattened phase/task list.
type row struct {
	phase int
	task  int
}

// Progress is how many tasks were ticked when the viewer closed.
type Progress struct {
	Done  int
	Total int
}

type Model struct {
	title    string
	phases   []roadmap.Phase
	rows     []row
	done     map[row]bool
	cursor   int
	viewport viewport.Model
	bar      progress.Model
	help     help.Model
	width    int
	height   int
	ready    bool
}

func New(title string, phases []roadmap.Phase) Model {
	m := Model{
		title:  title,
		phases: phases,
		done:   make(map[row]bool),
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		help:   help.New(),
	}
	for i, p := range phases {
		for j := range p.Tasks {
			m.rows = append(m.rows, row{phase: i, task: j})
		}
	}
	return m
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.rows)-1 {
				m.cursor++
			}
		case key.Matches(msg, keys.NextStep):
			m.jumpPhase(1)
		case key.Matches(msg, keys.PrevStep):
			m.jumpPhase(-1)
		case key.Matches(msg, keys.Toggle):
			if len(m.rows) > 0 {
				r := m.rows[m.cursor]
				if m.done[r] {
					delete(m.done, r)
				} else {
					m.done[r] = true
				}
			}
		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		m.refresh()
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(msg.Width-24, 10)
		m.help.Width = msg.Width

		vpHeight := max(msg.Height-4, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.refresh()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  codepods  " + m.title)

	p := m.Progress()
	percent := 0.0
	if p.Total > 0 {
		percent = float64(p.Done) / float64(p.Total)
	}
	bar := fmt.Sprintf(" %s  %d/%d tasks", m.bar.ViewAs(percent), p.Done, p.Total)

	status := statusBarStyle.Width(m.width).Render(m.help.View(keys))

	return lipgloss.JoinVertical(lipgloss.Left, title, bar, m.viewport.View(), status)
}

// Progress counts ticked tasks.
func (m Model) Progress() Progress {
	return Progress{Done: len(m.done), Total: len(m.rows)}
}

// jumpPhase moves the cursor to the first task of the next or previous phase.
func (m *Model) jumpPhase(delta int) {
	if len(m.rows) == 0 {
		return
	}
	target := m.rows[m.cursor].phase + delta
	if target < 0 || target >= len(m.phases) {
		return
	}
	for i, r := range m.rows {
		if r.phase == target {
			m.cursor = i
			return
		}
	}
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	content, line := m.render()
	m.viewport.SetContent(content)

	// Keep the cursor row on screen.
	if line < m.viewport.YOffset {
		m.viewport.SetYOffset(line)
	} else if line >= m.viewport.YOffset+m.viewport.Height {
		m.viewport.SetYOffset(line - m.viewport.Height + 1)
	}
}

// render draws every phase and returns the line index of the cursor row.
func (m *Model) render() (string, int) {
	var sb strings.Builder
	lines := 0
	cursorLine := 0
	active := -1
	if len(m.rows) > 0 {
		active = m.rows[m.cursor].phase
	}

	next := 0
	for i, p := range m.phases {
		heading := fmt.Sprintf(" %s. %s ", p.ID, p.Title)
		if i == active {
			heading = activePhaseStyle.Render(heading)
		} else {
			heading = phaseStyle.Render(heading)
		}
		if p.WeekRange != "" {
			heading += "  " + weekStyle.Render(p.WeekRange)
		}
		sb.WriteString(heading + "\n")
		lines++

		for j, task := range p.Tasks {
			r := row{phase: i, task: j}
			box := "[ ]"
			text := task
			if m.done[r] {
				box = "[x]"
				text = doneStyle.Render(task)
			}
			line := fmt.Sprintf("   %s %s", box, text)
			if next == m.cursor {
				line = selectedRowStyle.Render(fmt.Sprintf(" > %s %s", box, task))
				cursorLine = lines
			}
			sb.WriteString(line + "\n")
			lines++
			next++
		}
		sb.WriteString("\n")
		lines++
	}
	return sb.String(), cursorLine
}

// Run shows phases full-screen until the user quits and reports how many
// tasks were ticked.
func Run(title string, phases []roadmap.Phase) (Progress, error) {
	final, err := tea.NewProgram(New(title, phases), tea.WithAltScreen()).Run()
	if err != nil {
		return Progress{}, fmt.Errorf("running roadmap viewer: %w", err)
	}
	return final.(Model).Progress(), nil
}
