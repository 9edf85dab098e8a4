package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"flat_scrooper/models"
)

// levelFilters is the cycle of the level filter; "" shows everything
var levelFilters = []models.LogLevel{"", models.LogLevelDebug, models.LogLevelInfo, models.LogLevelWarn, models.LogLevelError}

type logsMsg struct {
	logs []models.ScrapeLog
}

type Logs struct {
	src           Source
	width, height int
	logs          []models.ScrapeLog
	levelIndex    int
	scrollOffset  int
}

func NewLogs(src Source) Logs {
	return Logs{src: src}
}

func (l Logs) Init() tea.Cmd {
	return l.Refresh()
}

func (l Logs) Refresh() tea.Cmd {
	return func() tea.Msg {
		logs, _ := l.src.RecentLogs(500)
		return logsMsg{logs}
	}
}

func (l Logs) SetSize(w, h int) Logs {
	l.width = w
	l.height = h
	return l
}

// filtered returns the loaded logs at the selected level
func (l Logs) filtered() []models.ScrapeLog {
	level := levelFilters[l.levelIndex]
	if level == "" {
		return l.logs
	}
	var out []models.ScrapeLog
	for _, entry := range l.logs {
		if entry.Level == level {
			out = append(out, entry)
		}
	}
	return out
}

func (l Logs) Update(msg tea.Msg) (Logs, tea.Cmd) {
	switch msg := msg.(type) {
	case logsMsg:
		l.logs = msg.logs
		l.scrollOffset = 0

	case tea.KeyMsg:
		maxScroll := max(len(l.filtered())-l.visibleLines(), 0)
		switch msg.String() {
		case "left":
			if l.levelIndex > 0 {
				l.levelIndex--
				l.scrollOffset = 0
			}
		case "right":
			if l.levelIndex < len(levelFilters)-1 {
				l.levelIndex++
				l.scrollOffset = 0
			}
		case "up", "k":
			if l.scrollOffset > 0 {
				l.scrollOffset--
			}
		case "down", "j":
			if l.scrollOffset < maxScroll {
				l.scrollOffset++
			}
		case "g":
			l.scrollOffset = 0
		case "G":
			l.scrollOffset = maxScroll
		}
	}
	return l, nil
}

func (l Logs) visibleLines() int {
	if l.height <= 6 {
		return 10
	}
	return l.height - 6
}

func (l Logs) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Logs"),
		l.renderFilter(),
		"",
		l.renderLogs(),
	)
}

func (l Logs) renderFilter() string {
	var parts []string
	for i, level := range levelFilters {
		name := strings.ToUpper(string(level))
		if level == "" {
			name = "ALL"
		}
		if i == l.levelIndex {
			parts = append(parts, tabActive.Render("["+name+"]"))
		} else {
			parts = append(parts, tabInactive.Render(name))
		}
	}
	return "Filter: " + strings.Join(parts, " ") + "  (←/→ to change)"
}

func (l Logs) renderLogs() string {
	logs := l.filtered()
	if len(logs) == 0 {
		return mutedStyle.Render("No logs")
	}

	start := l.scrollOffset
	end := min(start+l.visibleLines(), len(logs))

	lines := make([]string, 0, end-start)
	for _, entry := range logs[start:end] {
		lines = append(lines, l.formatLog(entry))
	}

	header := mutedStyle.Render(fmt.Sprintf("  [%d-%d of %d]", start+1, end, len(logs)))
	return header + "\n" + strings.Join(lines, "\n")
}

func (l Logs) formatLog(entry models.ScrapeLog) string {
	var levelStyle lipgloss.Style
	switch entry.Level {
	case models.LogLevelDebug:
		levelStyle = mutedStyle
	case models.LogLevelInfo:
		levelStyle = statusSuccess
	case models.LogLevelWarn:
		levelStyle = statusPending
	case models.LogLevelError:
		levelStyle = statusError
	default:
		levelStyle = lipgloss.NewStyle()
	}

	site := ""
	if entry.SiteID != "" {
		site = "[" + entry.SiteID + "] "
	}

	msg := entry.Message
	if maxLen := l.width - 25; maxLen > 3 {
		msg = truncate(msg, maxLen)
	}

	return fmt.Sprintf("%s %s %s%s",
		mutedStyle.Render(entry.Timestamp.Local().Format("15:04:05")),
		levelStyle.Render(fmt.Sprintf("%-5s", strings.ToUpper(string(entry.Level)))),
		mutedStyle.Render(site),
		msg,
	)
}
