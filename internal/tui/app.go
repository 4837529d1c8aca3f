package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Screen identifiers
type Screen int

const (
	ScreenDashboard Screen = iota
	ScreenConnections
	ScreenHelp
)

// Options configures the terminal dashboard
type Options struct {
	UserID  int64
	Days    int
	MaxDays int
}

// App is the root Bubble Tea model
type App struct {
	screen     Screen
	prevScreen Screen

	// Screen models
	dashboard   DashboardModel
	connections ConnectionsModel
	help        HelpModel

	builder DashboardBuilder
	lister  ConnectionLister
	opts    Options

	// Window dimensions
	width  int
	height int
}

// NewApp creates a new App with all dependencies
func NewApp(builder DashboardBuilder, lister ConnectionLister, opts Options) *App {
	if opts.MaxDays < 1 {
		opts.MaxDays = 90
	}
	if opts.Days < 1 || opts.Days > opts.MaxDays {
		opts.Days = 7
	}
	return &App{
		screen:      ScreenDashboard,
		builder:     builder,
		lister:      lister,
		opts:        opts,
		dashboard:   NewDashboardModel(builder, opts.UserID, opts.Days, opts.MaxDays, 0, 0),
		connections: NewConnectionsModel(lister, opts.UserID),
		help:        NewHelpModel(),
	}
}

// Init initializes the app
func (a *App) Init() tea.Cmd {
	return a.dashboard.Init()
}

// Update handles messages
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "1":
			if a.screen != ScreenDashboard {
				a.screen = ScreenDashboard
				a.dashboard = NewDashboardModel(a.builder, a.opts.UserID, a.dashboard.Days(), a.opts.MaxDays, a.width, a.height)
				return a, a.dashboard.Init()
			}
			return a, nil
		case "2":
			a.screen = ScreenConnections
			a.connections = NewConnectionsModel(a.lister, a.opts.UserID)
			return a, a.connections.Init()
		case "?":
			a.prevScreen = a.screen
			a.screen = ScreenHelp
			return a, nil
		case "esc":
			if a.screen == ScreenHelp {
				a.screen = a.prevScreen
				return a, nil
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
	}

	// Delegate to current screen
	var cmd tea.Cmd
	switch a.screen {
	case ScreenDashboard:
		var m tea.Model
		m, cmd = a.dashboard.Update(msg)
		a.dashboard = m.(DashboardModel)
	case ScreenConnections:
		var m tea.Model
		m, cmd = a.connections.Update(msg)
		a.connections = m.(ConnectionsModel)
	case ScreenHelp:
		var m tea.Model
		m, cmd = a.help.Update(msg)
		a.help = m.(HelpModel)
	}

	return a, cmd
}

// View renders the app
func (a *App) View() string {
	header := a.renderHeader()
	nav := a.renderNav()

	var content string
	switch a.screen {
	case ScreenDashboard:
		content = a.dashboard.View()
	case ScreenConnections:
		content = a.connections.View()
	case ScreenHelp:
		content = a.help.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, nav, content)
}

func (a *App) renderHeader() string {
	return headerStyle.Render(fmt.Sprintf("Health Dashboard  user %d", a.opts.UserID))
}

func (a *App) renderNav() string {
	items := []struct {
		key    string
		label  string
		screen Screen
	}{
		{"1", "Dashboard", ScreenDashboard},
		{"2", "Connections", ScreenConnections},
		{"?", "Help", ScreenHelp},
	}

	var nav string
	for i, item := range items {
		if i > 0 {
			nav += "  "
		}

		label := "[" + item.key + "] " + item.label
		if a.screen == item.screen {
			nav += navActiveStyle.Render(label)
		} else {
			nav += navInactiveStyle.Render(label)
		}
	}

	nav += "  " + navInactiveStyle.Render("[q] Quit")

	return navStyle.Render(nav)
}
