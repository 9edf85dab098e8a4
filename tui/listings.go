package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"flat_scrooper/models"
)

type listingsMsg struct {
	listings []models.StoredListing
}

type historyMsg struct {
	externalID string
	events     []models.PriceHistoryEvent
}

type Listings struct {
	src           Source
	width, height int
	listings      []models.StoredListing
	history       []models.PriceHistoryEvent
	historyFor    string
	selectedRow   int
	activeOnly    bool
}

func NewListings(src Source) Listings {
	return Listings{src: src}
}

func (l Listings) Init() tea.Cmd {
	return l.Refresh()
}

func (l Listings) Refresh() tea.Cmd {
	activeOnly := l.activeOnly
	return func() tea.Msg {
		listings, _ := l.src.ListListings(context.Background(), activeOnly)
		return listingsMsg{listings}
	}
}

func (l Listings) SetSize(w, h int) Listings {
	l.width = w
	l.height = h
	return l
}

// Selected returns the listing under the cursor, or nil
func (l Listings) Selected() *models.StoredListing {
	if l.selectedRow < 0 || l.selectedRow >= len(l.listings) {
		return nil
	}
	return &l.listings[l.selectedRow]
}

func (l Listings) Update(msg tea.Msg) (Listings, tea.Cmd) {
	switch msg := msg.(type) {
	case listingsMsg:
		l.listings = msg.listings
		if l.selectedRow >= len(l.listings) {
			l.selectedRow = 0
		}
		return l, l.loadHistory()

	case historyMsg:
		if sel := l.Selected(); sel != nil && sel.ExternalID == msg.externalID {
			l.history = msg.events
			l.historyFor = msg.externalID
		}

	case tea.KeyMsg:
		if len(l.listings) == 0 && msg.String() != "a" {
			return l, nil
		}
		prev := l.selectedRow
		switch msg.String() {
		case "up", "k":
			l.selectedRow--
		case "down", "j":
			l.selectedRow++
		case "pgup", "ctrl+u":
			l.selectedRow -= 10
		case "pgdown", "ctrl+d":
			l.selectedRow += 10
		case "home", "g":
			l.selectedRow = 0
		case "end", "G":
			l.selectedRow = len(l.listings) - 1
		case "a":
			l.activeOnly = !l.activeOnly
			l.selectedRow = 0
			return l, l.Refresh()
		}
		l.selectedRow = clamp(l.selectedRow, 0, len(l.listings)-1)
		if l.selectedRow != prev {
			return l, l.loadHistory()
		}
	}
	return l, nil
}

func (l Listings) loadHistory() tea.Cmd {
	sel := l.Selected()
	if sel == nil {
		return nil
	}
	id := sel.ExternalID
	return func() tea.Msg {
		events, _ := l.src.PriceHistory(context.Background(), id)
		return historyMsg{id, events}
	}
}

func (l Listings) visibleRows() int {
	rows := 20
	if l.height > 0 {
		rows = l.height * 60 / 100
		if rows < 8 {
			rows = 8
		}
	}
	return rows
}

func (l Listings) View() string {
	filter := "All"
	if l.activeOnly {
		filter = "Active only"
	}
	header := titleStyle.Render("Listings") +
		statValue.Render(fmt.Sprintf("  %d/%d", min(l.selectedRow+1, len(l.listings)), len(l.listings))) +
		"  " + mutedStyle.Render(fmt.Sprintf("[a] Filter: %s", filter))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		l.renderTable(),
		"",
		l.renderBottomPanel(),
	)
}

func (l Listings) renderTable() string {
	if len(l.listings) == 0 {
		return mutedStyle.Render("No listings stored")
	}

	header := fmt.Sprintf("%-12s %12s %5s %7s %-7s %-15s %-18s %4s %3s",
		"ID", "Price", "Rooms", "Area", "Floor", "Building", "Metro", "Min", "On")
	rows := tableHeader.Render(header) + "\n"

	visible := l.visibleRows()
	offset := 0
	if l.selectedRow >= visible {
		offset = l.selectedRow - visible + 1
	}
	end := min(offset+visible, len(l.listings))

	for i := offset; i < end; i++ {
		s := l.listings[i]
		active := statusError.Render("✗")
		if s.IsActive {
			active = statusSuccess.Render("✓")
		}
		row := fmt.Sprintf("%-12s %12s %5s %7s %-7s %-15s %-18s %4s %3s",
			truncate(s.ExternalID, 12),
			formatRub(s.Price),
			intOrDash(s.Rooms),
			areaOrDash(s.AreaTotal),
			floorText(s.FloorCurrent, s.FloorTotal),
			truncate(stringOrDash(s.BuildingType), 15),
			truncate(stringOrDash(s.MetroStation), 18),
			intOrDash(s.MetroTimeMinutes),
			active,
		)
		if i == l.selectedRow {
			rows += tableSelected.Render(row) + "\n"
		} else {
			rows += row + "\n"
		}
	}

	if len(l.listings) > visible {
		rows += mutedStyle.Render(fmt.Sprintf("  [%d-%d of %d]", offset+1, end, len(l.listings)))
	}
	return rows
}

func (l Listings) renderBottomPanel() string {
	half := l.width/2 - 2
	if half < 30 {
		half = 40
	}
	historyBox := cardBorder.Width(half).Render(
		titleStyle.Render("Price History") + "\n" + l.renderHistory(),
	)
	detailsBox := siteCardBorder.Width(half).Render(
		titleStyle.Render("Details") + "\n" + l.renderDetails(half-4),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, historyBox, detailsBox)
}

func (l Listings) renderHistory() string {
	sel := l.Selected()
	if sel == nil {
		return mutedStyle.Render("Select a listing")
	}
	if l.historyFor != sel.ExternalID || len(l.history) == 0 {
		return mutedStyle.Render("No price changes")
	}

	rows := tableHeader.Render(fmt.Sprintf("%-17s %14s", "Observed", "Price")) + "\n"
	start := 0
	if len(l.history) > 8 {
		start = len(l.history) - 8
	}
	for i := start; i < len(l.history); i++ {
		e := l.history[i]
		style := lipgloss.NewStyle()
		if i > 0 {
			if e.Price > l.history[i-1].Price {
				style = statusError
			} else if e.Price < l.history[i-1].Price {
				style = statusSuccess
			}
		}
		p := e.Price
		rows += fmt.Sprintf("%-17s %14s\n", e.ObservedAt.Local().Format("2006-01-02 15:04"), style.Render(formatRub(&p)))
	}
	return rows
}

func (l Listings) renderDetails(width int) string {
	sel := l.Selected()
	if sel == nil {
		return mutedStyle.Render("Select a listing")
	}

	lines := []string{}
	if sel.Title != "" {
		lines = append(lines, statValue.Render(truncate(sel.Title, width)))
	}
	if sel.Address != "" {
		lines = append(lines, truncate(sel.Address, width))
	}
	lines = append(lines,
		"",
		statLabel.Render("Category: ")+stringOrDash(sel.Category),
		statLabel.Render("District: ")+stringOrDash(sel.District),
		statLabel.Render("Year: ")+intOrDash(sel.YearBuilt),
		statLabel.Render("Seller: ")+stringOrDash(sel.SellerType),
		statLabel.Render("First seen: ")+sel.FirstSeenAt.Local().Format("2006-01-02"),
		statLabel.Render("Last seen: ")+relativeTime(sel.LastSeenAt),
		"",
		mutedStyle.Render(truncate(sel.URL, width)),
	)
	return strings.Join(lines, "\n")
}

// formatRub renders 6500000 as "6 500 000 ₽"
func formatRub(v *int64) string {
	if v == nil {
		return "—"
	}
	digits := fmt.Sprintf("%d", *v)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String() + " ₽"
}

func intOrDash(v *int) string {
	if v == nil {
		return "—"
	}
	return fmt.Sprintf("%d", *v)
}

func areaOrDash(v *float64) string {
	if v == nil {
		return "—"
	}
	return fmt.Sprintf("%.1f", *v)
}

func floorText(cur, total *int) string {
	switch {
	case cur != nil && total != nil:
		return fmt.Sprintf("%d/%d", *cur, *total)
	case cur != nil:
		return fmt.Sprintf("%d", *cur)
	}
	return "—"
}

func stringOrDash[T ~string](v *T) string {
	if v == nil || *v == "" {
		return "—"
	}
	return string(*v)
}

func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
