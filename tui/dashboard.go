package tui

import (
	"context"
	"fmt"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"flat_scrooper/models"
	"flat_scrooper/storage"
)

type dashboardDataMsg struct {
	coverage *models.FieldCoverage
	runs     []models.ScrapeRun
}

// siteSummary is the latest run of one site
type siteSummary struct {
	siteID  string
	lastRun models.ScrapeRun
	runs    int
	failed  int
}

type Dashboard struct {
	src           Source
	width, height int
	coverage      *models.FieldCoverage
	runs          []models.ScrapeRun
}

func NewDashboard(src Source) Dashboard {
	return Dashboard{src: src}
}

func (d Dashboard) Init() tea.Cmd {
	return d.Refresh()
}

func (d Dashboard) Refresh() tea.Cmd {
	return func() tea.Msg {
		listings, _ := d.src.ListListings(context.Background(), false)
		runs, _ := d.src.RecentRuns(50)
		return dashboardDataMsg{storage.ComputeCoverage(listings), runs}
	}
}

func (d Dashboard) SetSize(w, h int) Dashboard {
	d.width = w
	d.height = h
	return d
}

func (d Dashboard) Update(msg tea.Msg) (Dashboard, tea.Cmd) {
	if msg, ok := msg.(dashboardDataMsg); ok {
		d.coverage = msg.coverage
		d.runs = msg.runs
	}
	return d, nil
}

func (d Dashboard) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Dashboard"),
		d.renderStatCards(),
		"",
		d.renderSiteCards(),
		"",
		titleStyle.Render("Recent Runs"),
		d.renderRunsTable(),
	)
}

func (d Dashboard) renderStatCards() string {
	cov := d.coverage
	if cov == nil {
		cov = &models.FieldCoverage{}
	}
	cards := []string{
		renderStatCard("Listings", fmt.Sprintf("%d", cov.Total)),
		renderStatCard("Active", fmt.Sprintf("%d", cov.Active)),
		renderStatCard("With year", percent(cov.WithYear, cov.Total)),
		renderStatCard("With metro", percent(cov.WithMetro, cov.Total)),
		renderStatCard("New build", fmt.Sprintf("%d", cov.ByCategory[models.CategoryNewConstruction])),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func renderStatCard(label, value string) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		statValue.Render(value),
		statLabel.Render(label),
	)
	return cardBorder.Width(16).Render(content)
}

func (d Dashboard) renderSiteCards() string {
	sites := summarizeSites(d.runs)
	if len(sites) == 0 {
		return mutedStyle.Render("No runs recorded")
	}

	var cards []string
	for _, s := range sites {
		cards = append(cards, renderSiteCard(s))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

// summarizeSites groups runs (newest first) by site
func summarizeSites(runs []models.ScrapeRun) []siteSummary {
	bySite := make(map[string]*siteSummary)
	for _, r := range runs {
		s, ok := bySite[r.SiteID]
		if !ok {
			s = &siteSummary{siteID: r.SiteID, lastRun: r}
			bySite[r.SiteID] = s
		}
		s.runs++
		if r.Status == models.RunStatusFailed {
			s.failed++
		}
	}

	out := make([]siteSummary, 0, len(bySite))
	for _, s := range bySite {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].siteID < out[j].siteID })
	return out
}

func renderSiteCard(s siteSummary) string {
	status, style := runStatus(s.lastRun.Status)
	rate := 1 - float64(s.failed)/float64(s.runs)

	content := lipgloss.JoinVertical(lipgloss.Left,
		statValue.Render(s.siteID),
		style.Render(status),
		statLabel.Render(fmt.Sprintf("Last: %s", relativeTime(s.lastRun.StartedAt))),
		statLabel.Render(fmt.Sprintf("Offers: %d", s.lastRun.OffersFound)),
		statLabel.Render(fmt.Sprintf("Rate: %.0f%%", rate*100)),
	)
	return siteCardBorder.Width(24).Render(content)
}

func runStatus(status models.RunStatus) (string, lipgloss.Style) {
	switch status {
	case models.RunStatusCompleted:
		return "✓ completed", statusSuccess
	case models.RunStatusFailed:
		return "✗ failed", statusError
	case models.RunStatusRunning:
		return "◐ running", statusPending
	}
	return "○ " + string(status), statusPending
}

func (d Dashboard) renderRunsTable() string {
	if len(d.runs) == 0 {
		return mutedStyle.Render("No runs yet")
	}

	header := fmt.Sprintf("%-12s %-10s %-10s %6s %6s %6s %6s %6s",
		"Site", "Status", "Started", "Offers", "New", "Upd", "Price", "Errors")
	rows := tableHeader.Render(header) + "\n"

	limit := len(d.runs)
	if limit > 10 {
		limit = 10
	}
	for _, r := range d.runs[:limit] {
		_, style := runStatus(r.Status)
		rows += fmt.Sprintf("%-12s %s %-10s %6d %6d %6d %6d %6d\n",
			truncate(r.SiteID, 12),
			style.Render(fmt.Sprintf("%-10s", r.Status)),
			r.StartedAt.Local().Format("15:04:05"),
			r.OffersFound,
			r.ListingsNew,
			r.ListingsUpdate,
			r.PriceChanges,
			r.ErrorsCount,
		)
	}
	return rows
}

func percent(n, total int) string {
	if total == 0 {
		return "—"
	}
	return fmt.Sprintf("%.0f%%", float64(n)*100/float64(total))
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
