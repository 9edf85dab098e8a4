package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"flat_scrooper/models"
)

type fakeSource struct {
	runs     []models.ScrapeRun
	logs     []models.ScrapeLog
	listings []models.StoredListing
	history  map[string][]models.PriceHistoryEvent
	commands []models.CommandType
	failCmd  bool
}

func (f *fakeSource) RecentRuns(limit int) ([]models.ScrapeRun, error) { return f.runs, nil }
func (f *fakeSource) RecentLogs(limit int) ([]models.ScrapeLog, error) { return f.logs, nil }

func (f *fakeSource) ListListings(_ context.Context, activeOnly bool) ([]models.StoredListing, error) {
	var out []models.StoredListing
	for _, l := range f.listings {
		if !activeOnly || l.IsActive {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeSource) PriceHistory(_ context.Context, id string) ([]models.PriceHistoryEvent, error) {
	return f.history[id], nil
}

func (f *fakeSource) AddCommand(cmd models.CommandType, _ *models.CommandParams) (int64, error) {
	if f.failCmd {
		return 0, errors.New("database is locked")
	}
	f.commands = append(f.commands, cmd)
	return int64(len(f.commands)), nil
}

func key(s string) tea.KeyMsg {
	if s == " " {
		return tea.KeyMsg{Type: tea.KeySpace}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func price(v int64) *int64 { return &v }

func newFakeSource() *fakeSource {
	now := time.Now()
	station := "Купчино"
	return &fakeSource{
		runs: []models.ScrapeRun{
			{SiteID: "cian_spb", Status: models.RunStatusCompleted, StartedAt: now, OffersFound: 12},
			{SiteID: "cian_spb", Status: models.RunStatusFailed, StartedAt: now.Add(-time.Hour)},
		},
		logs: []models.ScrapeLog{
			{Level: models.LogLevelInfo, Message: "Completed", SiteID: "cian_spb", Timestamp: now},
			{Level: models.LogLevelError, Message: "Search error", SiteID: "cian_spb", Timestamp: now},
		},
		listings: []models.StoredListing{
			{ExtractedListing: models.ExtractedListing{ExternalID: "1001", Price: price(6300000), MetroStation: &station}, IsActive: true},
			{ExtractedListing: models.ExtractedListing{ExternalID: "1002", Price: price(9200000)}, IsActive: false},
		},
		history: map[string][]models.PriceHistoryEvent{
			"1002": {{ExternalID: "1002", Price: 9200000, ObservedAt: now}},
		},
	}
}

// load feeds the initial refresh of every view, without the ticker
func load(t *testing.T, m Model) Model {
	t.Helper()
	m = feed(t, m, m.dashboard.Refresh())
	m = feed(t, m, m.listings.Refresh())
	return feed(t, m, m.logs.Refresh())
}

// feed runs cmd and passes its message back through the model
func feed(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		return m
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, c := range batch {
			m = feed(t, m, c)
		}
		return m
	}
	next, follow := m.Update(msg)
	return feed(t, next.(Model), follow)
}

func TestCommandsAreQueued(t *testing.T) {
	src := newFakeSource()
	m := NewModel(src)

	next, cmd := m.Update(key("s"))
	m = feed(t, next.(Model), cmd)
	next, cmd = m.Update(key("h"))
	m = feed(t, next.(Model), cmd)
	next, cmd = m.Update(key(" "))
	m = feed(t, next.(Model), cmd)
	if !m.paused {
		t.Fatalf("expected paused after space")
	}
	next, cmd = m.Update(key(" "))
	m = feed(t, next.(Model), cmd)

	want := []models.CommandType{models.CmdScrapeNow, models.CmdRunLiveness, models.CmdPause, models.CmdResume}
	if len(src.commands) != len(want) {
		t.Fatalf("expected %v, got %v", want, src.commands)
	}
	for i := range want {
		if src.commands[i] != want[i] {
			t.Fatalf("command %d = %s, want %s", i, src.commands[i], want[i])
		}
	}
	if m.paused {
		t.Fatalf("expected resumed after second space")
	}

	src.failCmd = true
	next, cmd = m.Update(key("s"))
	m = feed(t, next.(Model), cmd)
	if !strings.Contains(m.notification, "database is locked") {
		t.Fatalf("expected failure notification, got %q", m.notification)
	}
}

func TestListingsNavigation(t *testing.T) {
	src := newFakeSource()
	m := NewModel(src)
	m = load(t, m)

	if len(m.listings.listings) != 2 {
		t.Fatalf("expected 2 listings loaded, got %d", len(m.listings.listings))
	}
	if m.dashboard.coverage == nil || m.dashboard.coverage.Total != 2 || m.dashboard.coverage.Active != 1 {
		t.Fatalf("unexpected coverage %+v", m.dashboard.coverage)
	}

	next, _ := m.Update(key("p"))
	m = next.(Model)
	next, cmd := m.Update(key("j"))
	m = feed(t, next.(Model), cmd)
	if sel := m.listings.Selected(); sel == nil || sel.ExternalID != "1002" {
		t.Fatalf("expected 1002 selected, got %+v", sel)
	}
	if m.listings.historyFor != "1002" || len(m.listings.history) != 1 {
		t.Fatalf("expected history for 1002, got %q %+v", m.listings.historyFor, m.listings.history)
	}
	if !strings.Contains(m.View(), "9 200 000 ₽") {
		t.Fatalf("expected formatted price in view")
	}

	next, cmd = m.Update(key("a"))
	m = feed(t, next.(Model), cmd)
	if len(m.listings.listings) != 1 || m.listings.Selected().ExternalID != "1001" {
		t.Fatalf("expected only the active listing, got %+v", m.listings.listings)
	}
}

func TestLogFilter(t *testing.T) {
	m := NewModel(newFakeSource())
	m = load(t, m)
	next, _ := m.Update(key("l"))
	m = next.(Model)

	if len(m.logs.filtered()) != 2 {
		t.Fatalf("expected all logs")
	}
	for i := 0; i < 4; i++ {
		next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRight})
		m = next.(Model)
	}
	got := m.logs.filtered()
	if len(got) != 1 || got[0].Level != models.LogLevelError {
		t.Fatalf("expected only error logs, got %+v", got)
	}
	if !strings.Contains(m.View(), "Search error") {
		t.Fatalf("expected error line in view")
	}
}

func TestSummarizeSites(t *testing.T) {
	sites := summarizeSites(newFakeSource().runs)
	if len(sites) != 1 || sites[0].runs != 2 || sites[0].failed != 1 || sites[0].lastRun.Status != models.RunStatusCompleted {
		t.Fatalf("unexpected summary %+v", sites)
	}
	if formatRub(price(6500000)) != "6 500 000 ₽" || formatRub(price(950)) != "950 ₽" {
		t.Fatalf("unexpected rouble formatting")
	}
}
