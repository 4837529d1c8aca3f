package tui

import (
	"context"
	"fmt"
	"strings"

	"healthdash/internal/series"
	"healthdash/internal/service"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
)

// DashboardBuilder builds dashboard snapshots
type DashboardBuilder interface {
	BuildDashboard(ctx context.Context, userID int64, days int) (*service.DashboardSnapshot, error)
}

// DashboardModel is the dashboard screen model
type DashboardModel struct {
	builder  DashboardBuilder
	userID   int64
	days     int
	maxDays  int
	data     *service.DashboardSnapshot
	spinner  spinner.Model
	viewport viewport.Model
	loading  bool
	err      error
	width    int
	height   int
	ready    bool
}

// NewDashboardModel creates a new dashboard model
func NewDashboardModel(builder DashboardBuilder, userID int64, days, maxDays, width, height int) DashboardModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	m := DashboardModel{
		builder: builder,
		userID:  userID,
		days:    days,
		maxDays: maxDays,
		spinner: s,
		loading: true,
		width:   width,
		height:  height,
	}

	if width > 0 && height > 0 {
		m.viewport = viewport.New(width, height-6)
		m.ready = true
	}

	return m
}

// Init initializes the dashboard
func (m DashboardModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadData)
}

type dashboardDataMsg struct {
	days int
	data *service.DashboardSnapshot
	err  error
}

func (m DashboardModel) loadData() tea.Msg {
	data, err := m.builder.BuildDashboard(context.Background(), m.userID, m.days)
	return dashboardDataMsg{days: m.days, data: data, err: err}
}

// Update handles messages
func (m DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dashboardDataMsg:
		// A slower response for an old range is dropped
		if msg.days != m.days {
			return m, nil
		}
		m.loading = false
		m.err = msg.err
		m.data = msg.data
		if m.ready {
			m.viewport.SetContent(m.renderContent())
		}
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-6)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 6
		}
		if m.data != nil {
			m.viewport.SetContent(m.renderContent())
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "r":
			return m.reload()
		case "+", "=":
			if m.days < m.maxDays {
				m.days++
				return m.reload()
			}
			return m, nil
		case "-":
			if m.days > 1 {
				m.days--
				return m.reload()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m DashboardModel) reload() (tea.Model, tea.Cmd) {
	// A running spinner already has a tick chain
	if m.loading {
		return m, m.loadData
	}
	m.loading = true
	m.err = nil
	return m, tea.Batch(m.spinner.Tick, m.loadData)
}

// Days returns the currently selected range
func (m DashboardModel) Days() int {
	return m.days
}

// View renders the dashboard
func (m DashboardModel) View() string {
	if m.loading {
		return fmt.Sprintf("\n  %s Loading %d days from Google Fit...", m.spinner.View(), m.days)
	}

	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("\n  Error: %s", describeError(m.err)))
	}

	if m.data == nil {
		return "\n  No data available."
	}

	footer := statusStyle.Render(fmt.Sprintf("  %d days  r: refresh  +/-: range  j/k: scroll", m.days))
	if !m.ready {
		return lipgloss.JoinVertical(lipgloss.Left, m.renderContent(), footer)
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.viewport.View(), footer)
}

func (m DashboardModel) renderContent() string {
	var sections []string

	topRow := lipgloss.JoinHorizontal(lipgloss.Top, m.renderActivityCard(), "  ", m.renderBodyCard())
	sections = append(sections, topRow)

	if len(m.data.Degraded) > 0 {
		sections = append(sections, warningStyle.Render("  Unavailable: "+strings.Join(m.data.Degraded, ", ")))
	}

	charts := []struct {
		metric    series.Metric
		title     string
		precision uint
	}{
		{series.MetricSteps, "Steps", 0},
		{series.MetricHeartRate, "Heart Rate (avg bpm)", 1},
		{series.MetricSleep, "Sleep (hours)", 2},
	}
	for _, c := range charts {
		sections = append(sections, m.renderChart(c.title, m.data.Charts[c.metric], m.data.Trends[c.metric], c.precision))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m DashboardModel) renderActivityCard() string {
	stats := m.data.DailyStats
	title := cardTitleStyle.Render("Latest Day  " + stats.Date)

	lines := []string{
		RenderMetric("Steps", fmt.Sprintf("%d", stats.Steps), goalProgress(float64(stats.Steps), float64(stats.Goals.Steps))),
		RenderMetric("Distance", FormatDistance(stats.DistanceKM), ""),
		RenderMetric("Calories", fmt.Sprintf("%.0f kcal", stats.Calories), ""),
		RenderMetric("Active", fmt.Sprintf("%d min", stats.ActiveMinutes), ""),
		RenderMetric("Sleep", FormatHours(stats.SleepHours), goalProgress(stats.SleepHours, stats.Goals.SleepHours)),
	}
	if st := stats.SleepStages; st != nil {
		lines = append(lines,
			RenderMetric("Deep / REM", fmt.Sprintf("%.0f / %.0f min", st.DeepMinutes, st.REMMinutes), string(st.Quality)),
			RenderMetric("Efficiency", fmt.Sprintf("%.0f%%", st.Efficiency), ""),
		)
	}

	content := lipgloss.JoinVertical(lipgloss.Left, lines...)
	return cardStyle.Width(40).Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
}

func (m DashboardModel) renderBodyCard() string {
	stats := m.data.DailyStats
	title := cardTitleStyle.Render("Heart & Body")

	hr := "-"
	if stats.HeartRate.ReadingsCount > 0 {
		hr = fmt.Sprintf("%.1f bpm", stats.HeartRate.AvgBPM)
	}
	hrRange := "-"
	if stats.HeartRate.ReadingsCount > 0 {
		hrRange = fmt.Sprintf("%.0f-%.0f", stats.HeartRate.MinBPM, stats.HeartRate.MaxBPM)
	}

	lines := []string{
		RenderMetric("Heart Rate", hr, ""),
		RenderMetric("HR Range", hrRange, ""),
		RenderMetric("Weight", FormatOptional(stats.WeightKG, "%.1f kg"), FormatChange(stats.WeightChange)),
		RenderMetric("Height", FormatOptional(stats.HeightM, "%.2f m"), ""),
		RenderMetric("BMI", FormatOptional(stats.BMI, "%.1f"), ""),
	}

	content := lipgloss.JoinVertical(lipgloss.Left, lines...)
	return cardStyle.Width(40).Render(lipgloss.JoinVertical(lipgloss.Left, title, content))
}

func (m DashboardModel) renderChart(title string, ds series.DailySeries, trend series.Trend, precision uint) string {
	if n := len(trend.WeeklyAvg); n > 0 {
		title += fmt.Sprintf("  week avg %.*f", int(precision), trend.WeeklyAvg[n-1].Value)
	}
	heading := cardTitleStyle.Render(title)

	if len(ds.Values) < 2 {
		value := "no data"
		if len(ds.Values) == 1 {
			value = fmt.Sprintf("%s: %.*f", ds.Labels[0], int(precision), ds.Values[0])
		}
		return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, heading, value))
	}

	width := 60
	if m.width > 20 && m.width-12 < width {
		width = m.width - 12
	}

	graph := asciigraph.Plot(ds.Values,
		asciigraph.Height(8),
		asciigraph.Width(width),
		asciigraph.Precision(precision),
		asciigraph.Caption(ds.Labels[0]+" .. "+ds.Labels[len(ds.Labels)-1]),
	)

	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, heading, graph))
}

func goalProgress(value, goal float64) string {
	if goal <= 0 {
		return ""
	}
	pct := value / goal * 100
	if pct >= 100 {
		return "↑ goal"
	}
	return fmt.Sprintf("%.0f%%", pct)
}
