package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"flat_scrooper/config"
	"flat_scrooper/extract"
	"flat_scrooper/models"
	"flat_scrooper/scraper"
	"flat_scrooper/services"
	"flat_scrooper/storage"
)

func newTestScheduler(t *testing.T, schedCfg config.SchedulerConfig) (*Scheduler, *scraper.Orchestrator, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "sched.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine, err := extract.NewEngine(extract.DefaultOptions())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	cfg := &config.Config{Scheduler: schedCfg, Sites: map[string]*config.SiteConfig{}}
	o := scraper.NewOrchestrator(cfg, store, services.NewListingService(store, nil), engine, nil)
	return New(cfg, o, store), o, store
}

func TestCommandPolling(t *testing.T) {
	s, o, store := newTestScheduler(t, config.SchedulerConfig{CommandPoll: 10 * time.Millisecond})

	triggered := make(chan struct{}, 1)
	o.SetLivenessTrigger(func() { triggered <- struct{}{} })

	store.AddCommand(models.CmdPause, nil)
	store.AddCommand(models.CmdRunLiveness, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case <-triggered:
	case <-time.After(2 * time.Second):
		t.Fatalf("liveness command was not processed")
	}
	if !o.IsPaused() {
		t.Fatalf("expected pause command to be applied first")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cmds, _ := store.GetPendingCommands()
		if len(cmds) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("commands were not marked processed")
}

func TestInvalidCron(t *testing.T) {
	s, _, _ := newTestScheduler(t, config.SchedulerConfig{Cron: "every tuesday"})
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected invalid cron error")
	}
	s.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	s, _, _ := newTestScheduler(t, config.SchedulerConfig{Interval: time.Hour, CommandPoll: time.Hour})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
	s.Stop()
}
