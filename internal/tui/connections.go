package tui

import (
	"context"
	"fmt"

	"healthdash/internal/service"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ConnectionLister lists a user's provider connections
type ConnectionLister interface {
	List(ctx context.Context, userID int64) ([]service.ConnectionInfo, error)
}

// ConnectionsModel is the connections screen model
type ConnectionsModel struct {
	lister      ConnectionLister
	userID      int64
	connections []service.ConnectionInfo
	cursor      int
	loading     bool
	err         error
}

// NewConnectionsModel creates a new connections model
func NewConnectionsModel(lister ConnectionLister, userID int64) ConnectionsModel {
	return ConnectionsModel{
		lister:  lister,
		userID:  userID,
		loading: true,
	}
}

// Init initializes the connections screen
func (m ConnectionsModel) Init() tea.Cmd {
	return m.load
}

type connectionsLoadedMsg struct {
	connections []service.ConnectionInfo
	err         error
}

func (m ConnectionsModel) load() tea.Msg {
	conns, err := m.lister.List(context.Background(), m.userID)
	return connectionsLoadedMsg{connections: conns, err: err}
}

// Update handles messages
func (m ConnectionsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case connectionsLoadedMsg:
		m.loading = false
		m.err = msg.err
		m.connections = msg.connections
		if m.cursor >= len(m.connections) {
			m.cursor = 0
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.connections)-1 {
				m.cursor++
			}
		case "r":
			m.loading = true
			return m, m.load
		}
	}
	return m, nil
}

// View renders the connections list
func (m ConnectionsModel) View() string {
	if m.loading {
		return "\n  Loading connections..."
	}

	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("\n  Error: %v", m.err))
	}

	if len(m.connections) == 0 {
		return "\n  No connections. Start one with POST /api-connections/google-fit/auth."
	}

	var sections []string

	title := cardTitleStyle.Render(fmt.Sprintf("Connections (%d)", len(m.connections)))
	sections = append(sections, title)

	header := tableHeaderStyle.Render(fmt.Sprintf("   %-4s  %-12s  %-9s  %-16s  %-16s",
		"ID", "Provider", "Status", "Created", "Updated"))
	sections = append(sections, header)

	for i, c := range m.connections {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}

		row := fmt.Sprintf("%s%-4d  %-12s  %-9s  %-16s  %-16s",
			cursor,
			c.ID,
			c.Provider,
			connectionStatus(c),
			c.CreatedAt.Local().Format("2006-01-02 15:04"),
			c.UpdatedAt.Local().Format("2006-01-02 15:04"),
		)

		if i == m.cursor {
			sections = append(sections, tableSelectedStyle.Render(row))
		} else {
			sections = append(sections, tableRowStyle.Render(row))
		}
	}

	help := statusStyle.Render("\n  j/k: navigate  r: refresh")
	sections = append(sections, help)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func connectionStatus(c service.ConnectionInfo) string {
	switch {
	case c.IsActive:
		return "active"
	case c.Pending:
		return "pending"
	default:
		return "revoked"
	}
}
