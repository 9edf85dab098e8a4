// Package tui is a terminal dashboard over the operational store. It never
// talks to the daemon directly: actions are queued as commands that the
// daemon's scheduler picks up.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"flat_scrooper/models"
)

type tab int

const (
	tabDashboard tab = iota
	tabListings
	tabLogs
)

var tabNames = []string{"Dashboard", "Listings", "Logs"}

type Model struct {
	src           Source
	activeTab     tab
	width, height int
	notification  string
	notifyUntil   time.Time
	paused        bool

	dashboard Dashboard
	listings  Listings
	logs      Logs
}

type tickMsg time.Time

// commandSentMsg reports the outcome of queueing a command
type commandSentMsg struct {
	cmd models.CommandType
	err error
}

func NewModel(src Source) Model {
	return Model{
		src:       src,
		activeTab: tabDashboard,
		dashboard: NewDashboard(src),
		listings:  NewListings(src),
		logs:      NewLogs(src),
	}
}

// Run starts the dashboard in the alternate screen and blocks until quit
func Run(src Source) error {
	_, err := tea.NewProgram(NewModel(src), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.Init(),
		m.listings.Init(),
		m.logs.Init(),
		tickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(10*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) sendCommand(cmd models.CommandType, params *models.CommandParams) tea.Cmd {
	return func() tea.Msg {
		_, err := m.src.AddCommand(cmd, params)
		return commandSentMsg{cmd, err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "d":
			m.activeTab = tabDashboard
			return m, nil
		case "p":
			m.activeTab = tabListings
			return m, nil
		case "l":
			m.activeTab = tabLogs
			return m, nil
		case "tab":
			m.activeTab = (m.activeTab + 1) % tab(len(tabNames))
			return m, nil
		case "r":
			m.notify("Refreshed")
			return m, m.refreshActive()
		case "s":
			return m, m.sendCommand(models.CmdScrapeNow, nil)
		case "h":
			return m, m.sendCommand(models.CmdRunLiveness, nil)
		case " ":
			if m.paused {
				return m, m.sendCommand(models.CmdResume, nil)
			}
			return m, m.sendCommand(models.CmdPause, nil)
		}

	case commandSentMsg:
		if msg.err != nil {
			m.notify("Command failed: " + msg.err.Error())
			return m, nil
		}
		switch msg.cmd {
		case models.CmdPause:
			m.paused = true
		case models.CmdResume:
			m.paused = false
		}
		m.notify(string(msg.cmd) + " command sent!")
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dashboard = m.dashboard.SetSize(msg.Width, msg.Height-4)
		m.listings = m.listings.SetSize(msg.Width, msg.Height-4)
		m.logs = m.logs.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case tickMsg:
		cmds = append(cmds, m.refreshActive(), tickCmd())
	}

	// Keys go to the active tab only; data messages go to every view
	var cmd tea.Cmd
	if _, ok := msg.(tea.KeyMsg); ok {
		switch m.activeTab {
		case tabDashboard:
			m.dashboard, cmd = m.dashboard.Update(msg)
		case tabListings:
			m.listings, cmd = m.listings.Update(msg)
		case tabLogs:
			m.logs, cmd = m.logs.Update(msg)
		}
		cmds = append(cmds, cmd)
	} else {
		m.dashboard, cmd = m.dashboard.Update(msg)
		cmds = append(cmds, cmd)
		m.listings, cmd = m.listings.Update(msg)
		cmds = append(cmds, cmd)
		m.logs, cmd = m.logs.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) notify(text string) {
	m.notification = text
	m.notifyUntil = time.Now().Add(2 * time.Second)
}

func (m Model) refreshActive() tea.Cmd {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.Refresh()
	case tabListings:
		return m.listings.Refresh()
	case tabLogs:
		return m.logs.Refresh()
	}
	return nil
}

func (m Model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.renderTabs(), m.renderContent(), m.renderStatusBar())
}

func (m Model) renderTabs() string {
	var rendered []string
	for i, name := range tabNames {
		if tab(i) == m.activeTab {
			rendered = append(rendered, tabActive.Render(name))
		} else {
			rendered = append(rendered, tabInactive.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n"
}

func (m Model) renderContent() string {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.View()
	case tabListings:
		return m.listings.View()
	case tabLogs:
		return m.logs.View()
	}
	return ""
}

func (m Model) renderStatusBar() string {
	left := "d Dash  p Listings  l Logs  r Refresh  s Scrape  h Liveness  space Pause  q Quit"
	right := ""
	if time.Now().Before(m.notifyUntil) {
		right = notification.Render(m.notification)
	}

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 0)
	return statusBar.Render(left) + lipgloss.NewStyle().Width(gap).Render("") + right
}
