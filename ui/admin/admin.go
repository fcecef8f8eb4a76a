package admin

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/vireonet/vireo/db"
	"github.com/vireonet/vireo/domain"
	"github.com/vireonet/vireo/federation"
	"github.com/vireonet/vireo/ui/common"
	"github.com/vireonet/vireo/util"
)

var (
	nodeStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			MarginBottom(0)

	selectedStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			MarginBottom(0).
			Foreground(lipgloss.Color(common.COLOR_GREEN)).
			Bold(true)

	disabledStyle = lipgloss.NewStyle().
			PaddingLeft(2).
			MarginBottom(0).
			Foreground(lipgloss.Color(common.COLOR_RED))

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(common.COLOR_DARK_GREY)).
			Italic(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(common.COLOR_BLUE))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(common.COLOR_RED))
)

const addFieldCount = 6

type Model struct {
	registry *federation.Registry
	state    common.SessionState
	Nodes    []domain.Node
	Failures []domain.DeliveryFailure
	Selected int
	Width    int
	Height   int
	Status   string
	Error    string

	inputs     []textinput.Model
	focusIndex int
}

func InitialModel(registry *federation.Registry, width, height int) Model {
	inputs := make([]textinput.Model, addFieldCount)
	placeholders := []string{
		"node name",
		"base url (https://...)",
		"outbound username",
		"outbound password",
		"inbound username",
		"inbound password",
	}
	for i := range inputs {
		t := textinput.New()
		t.Placeholder = placeholders[i]
		t.CharLimit = 128
		if i == 3 || i == 5 {
			t.EchoMode = textinput.EchoPassword
		}
		inputs[i] = t
	}
	inputs[0].Focus()

	return Model{
		registry: registry,
		state:    common.NodeListView,
		Nodes:    []domain.Node{},
		Selected: 0,
		Width:    width,
		Height:   height,
		inputs:   inputs,
	}
}

func (m Model) Init() tea.Cmd {
	return loadNodes(m.registry)
}

type nodesLoadedMsg struct {
	nodes []domain.Node
}

type nodeToggledMsg struct {
	enabled bool
}

type nodeAddedMsg struct {
	name string
	err  error
}

type failuresLoadedMsg struct {
	failures []domain.DeliveryFailure
}

func loadNodes(registry *federation.Registry) tea.Cmd {
	return func() tea.Msg {
		return nodesLoadedMsg{nodes: registry.All()}
	}
}

func toggleNode(registry *federation.Registry, id uuid.UUID, enabled bool) tea.Cmd {
	return func() tea.Msg {
		if err := registry.SetEnabled(id, enabled); err != nil {
			log.Printf("Admin panel: Failed to toggle node: %v", err)
		}
		return nodeToggledMsg{enabled: enabled}
	}
}

func addNode(registry *federation.Registry, values []string) tea.Cmd {
	return func() tea.Msg {
		hash, err := federation.HashInboundPassword(values[5])
		if err != nil {
			return nodeAddedMsg{err: err}
		}
		node := &domain.Node{
			Id:                  uuid.New(),
			Name:                values[0],
			BaseURL:             domain.NormalizeBaseURL(values[1]),
			OutboundUsername:    values[2],
			OutboundPassword:    values[3],
			InboundUsername:     values[4],
			InboundPasswordHash: hash,
			Enabled:             true,
			CreatedAt:           time.Now(),
		}
		if err := registry.Add(node); err != nil {
			return nodeAddedMsg{err: err}
		}
		return nodeAddedMsg{name: node.Name}
	}
}

func loadFailures() tea.Cmd {
	return func() tea.Msg {
		err, failures := db.GetDB().ReadDeliveryFailures(50)
		if err != nil {
			log.Printf("Admin panel: Failed to load delivery failures: %v", err)
			return failuresLoadedMsg{failures: []domain.DeliveryFailure{}}
		}
		return failuresLoadedMsg{failures: *failures}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case nodesLoadedMsg:
		m.Nodes = msg.nodes
		if m.Selected >= len(m.Nodes) {
			m.Selected = max(0, len(m.Nodes)-1)
		}
		return m, nil

	case nodeToggledMsg:
		if msg.enabled {
			m.Status = "Node enabled"
		} else {
			m.Status = "Node disabled, deliveries will be abandoned"
		}
		m.Error = ""
		return m, loadNodes(m.registry)

	case nodeAddedMsg:
		if msg.err != nil {
			m.Error = msg.err.Error()
			return m, nil
		}
		m.Status = fmt.Sprintf("Node %s registered", msg.name)
		m.Error = ""
		m.state = common.NodeListView
		m.resetInputs()
		return m, loadNodes(m.registry)

	case failuresLoadedMsg:
		m.Failures = msg.failures
		return m, nil

	case tea.KeyMsg:
		m.Status = ""
		m.Error = ""

		switch m.state {
		case common.AddNodeView:
			return m.updateAddView(msg)
		case common.FailuresView:
			switch msg.String() {
			case "esc":
				m.state = common.NodeListView
			case "q", "ctrl+c":
				return m, tea.Quit
			}
			return m, nil
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up":
			if m.Selected > 0 {
				m.Selected--
			}
		case "down":
			if len(m.Nodes) > 0 && m.Selected < len(m.Nodes)-1 {
				m.Selected++
			}
		case "d":
			if len(m.Nodes) > 0 && m.Selected < len(m.Nodes) {
				node := m.Nodes[m.Selected]
				return m, toggleNode(m.registry, node.Id, !node.Enabled)
			}
		case "a":
			m.state = common.AddNodeView
			return m, textinput.Blink
		case "f":
			m.state = common.FailuresView
			return m, loadFailures()
		}
	}

	return m, nil
}

func (m Model) updateAddView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.state = common.NodeListView
		m.resetInputs()
		return m, nil

	case "tab", "shift+tab", "enter":
		if msg.String() == "enter" && m.focusIndex == addFieldCount-1 {
			values := make([]string, addFieldCount)
			for i := range m.inputs {
				values[i] = strings.TrimSpace(m.inputs[i].Value())
				if values[i] == "" {
					m.Error = "All fields are required"
					return m, nil
				}
			}
			return m, addNode(m.registry, values)
		}

		if msg.String() == "shift+tab" {
			m.focusIndex--
		} else {
			m.focusIndex++
		}
		if m.focusIndex < 0 {
			m.focusIndex = addFieldCount - 1
		}
		if m.focusIndex >= addFieldCount {
			m.focusIndex = 0
		}

		cmds := make([]tea.Cmd, addFieldCount)
		for i := range m.inputs {
			if i == m.focusIndex {
				cmds[i] = m.inputs[i].Focus()
			} else {
				m.inputs[i].Blur()
			}
		}
		return m, tea.Batch(cmds...)
	}

	var cmd tea.Cmd
	m.inputs[m.focusIndex], cmd = m.inputs[m.focusIndex].Update(msg)
	return m, cmd
}

func (m *Model) resetInputs() {
	for i := range m.inputs {
		m.inputs[i].SetValue("")
		m.inputs[i].Blur()
	}
	m.focusIndex = 0
	m.inputs[0].Focus()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (m Model) View() string {
	switch m.state {
	case common.AddNodeView:
		return m.addView()
	case common.FailuresView:
		return m.failuresView()
	}
	return m.listView()
}

func (m Model) listView() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render(fmt.Sprintf("node registry (%d nodes)", len(m.Nodes))))
	s.WriteString("\n\n")

	if len(m.Nodes) == 0 {
		s.WriteString(emptyStyle.Render("No nodes registered."))
		s.WriteString("\n")
	} else {
		for i, node := range m.Nodes {
			prefix := "  "
			style := nodeStyle
			suffix := ""

			if i == m.Selected {
				prefix = "> "
				style = selectedStyle
			}

			if !node.Enabled {
				style = disabledStyle
				suffix = " [DISABLED]"
			}

			s.WriteString(style.Render(fmt.Sprintf("%s%s (%s)%s", prefix, node.Name, node.BaseURL, suffix)))
			s.WriteString("\n")
		}
	}

	s.WriteString("\n")
	s.WriteString(common.HelpStyle.Render("a: add  d: enable/disable  f: failures  ↑/↓: navigate  q: quit"))
	s.WriteString("\n")

	if m.Status != "" {
		s.WriteString("\n")
		s.WriteString(statusStyle.Render(m.Status))
	}

	if m.Error != "" {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render("Error: " + m.Error))
	}

	return s.String()
}

func (m Model) addView() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render("register node"))
	s.WriteString("\n\n")

	for i := range m.inputs {
		s.WriteString(nodeStyle.Render(m.inputs[i].View()))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(common.HelpStyle.Render("tab: next field  enter: save  esc: cancel"))

	if m.Error != "" {
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render("Error: " + m.Error))
	}

	return s.String()
}

func (m Model) failuresView() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render(fmt.Sprintf("delivery failures (%d)", len(m.Failures))))
	s.WriteString("\n\n")

	if len(m.Failures) == 0 {
		s.WriteString(emptyStyle.Render("No abandoned deliveries."))
		s.WriteString("\n")
	} else {
		for _, f := range m.Failures {
			s.WriteString(nodeStyle.Render(fmt.Sprintf("%s  %s (%d attempts: %s)",
				f.FailedAt.Format(util.DateTimeFormat()), f.ObjectFQID, f.Attempts, f.LastStatus)))
			s.WriteString("\n")
		}
	}

	s.WriteString("\n")
	s.WriteString(common.HelpStyle.Render("esc: back  q: quit"))
	s.WriteString("\n")

	return s.String()
}
