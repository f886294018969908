package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/presencesim/internal/models"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "presencesim.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "presencesim.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := s.SaveSettings(map[string]interface{}{"slot_minutes": 30}); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	s.Close()

	// Migrations are idempotent and data survives a restart.
	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer s.Close()

	got, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if got["slot_minutes"] != float64(30) {
		t.Errorf("Expected slot_minutes 30, got %v", got["slot_minutes"])
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	empty, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no settings, got %v", empty)
	}

	err = s.SaveSettings(map[string]interface{}{
		"entities":     []string{"light.kitchen", "switch.porch"},
		"window_start": "19:00",
	})
	if err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	// Upsert overwrites one key and leaves the others.
	if err := s.SaveSettings(map[string]interface{}{"window_start": "20:15"}); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}

	got, err := s.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if got["window_start"] != "20:15" {
		t.Errorf("Expected window_start 20:15, got %v", got["window_start"])
	}
	entities, ok := got["entities"].([]interface{})
	if !ok || len(entities) != 2 || entities[0] != "light.kitchen" {
		t.Errorf("Unexpected entities: %#v", got["entities"])
	}
}

func TestRunState(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	state, err := s.GetRunState()
	if err != nil {
		t.Fatalf("GetRunState failed: %v", err)
	}
	if state.Running || state.StartedAt != nil {
		t.Errorf("Fresh store should be stopped, got %+v", state)
	}

	started := time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC)
	if err := s.SaveRunState(models.RunState{Running: true, StartedAt: &started}); err != nil {
		t.Fatalf("SaveRunState failed: %v", err)
	}

	state, err = s.GetRunState()
	if err != nil {
		t.Fatalf("GetRunState failed: %v", err)
	}
	if !state.Running {
		t.Error("Expected running state")
	}
	if state.StartedAt == nil || !state.StartedAt.Equal(started) {
		t.Errorf("Expected started_at %v, got %v", started, state.StartedAt)
	}

	if err := s.SaveRunState(models.RunState{}); err != nil {
		t.Fatalf("SaveRunState failed: %v", err)
	}
	state, _ = s.GetRunState()
	if state.Running || state.StartedAt != nil {
		t.Errorf("Expected stopped state, got %+v", state)
	}
}

func TestActionHistory(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	at := time.Date(2024, 1, 1, 19, 0, 0, 0, time.UTC)
	first, err := s.RecordAction(at, "light.kitchen", models.ActionTurnOn, models.SourceSchedule)
	if err != nil {
		t.Fatalf("RecordAction failed: %v", err)
	}
	if first.ID == "" {
		t.Error("Action ID should not be empty")
	}
	if _, err := s.RecordAction(at.Add(30*time.Minute), "light.kitchen", models.ActionTurnOff, models.SourceManual); err != nil {
		t.Fatalf("RecordAction failed: %v", err)
	}

	records, err := s.ListActions(10)
	if err != nil {
		t.Fatalf("ListActions failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Action != models.ActionTurnOff || records[0].Source != models.SourceManual {
		t.Errorf("Expected newest first, got %+v", records[0])
	}
	if !records[1].Time.Equal(at) {
		t.Errorf("Expected time %v, got %v", at, records[1].Time)
	}

	limited, _ := s.ListActions(1)
	if len(limited) != 1 {
		t.Errorf("Expected 1 record with limit, got %d", len(limited))
	}
}

func TestActionHistory_Trim(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	total := ActionHistoryLimit + 25
	for i := 0; i < total; i++ {
		if _, err := s.RecordAction(at.Add(time.Duration(i)*time.Minute), "light.a", models.ActionTurnOn, models.SourceSchedule); err != nil {
			t.Fatalf("RecordAction %d failed: %v", i, err)
		}
	}

	n, err := s.CountActions()
	if err != nil {
		t.Fatalf("CountActions failed: %v", err)
	}
	if n != ActionHistoryLimit {
		t.Errorf("Expected %d retained rows, got %d", ActionHistoryLimit, n)
	}

	records, _ := s.ListActions(0)
	oldest := records[len(records)-1]
	if want := at.Add(25 * time.Minute); !oldest.Time.Equal(want) {
		t.Errorf("Expected oldest retained at %v, got %v", want, oldest.Time)
	}
}

func TestActionHistory_Concurrent(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.RecordAction(time.Now(), "switch.porch", models.ActionTurnOn, models.SourceSchedule)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent RecordAction failed: %v", err)
		}
	}
	if n, _ := s.CountActions(); n != 20 {
		t.Errorf("Expected 20 rows, got %d", n)
	}
}

func TestPDR(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	pdr, err := s.WritePDR("sim.start", "abc123", "success", "", "started")
	if err != nil {
		t.Fatalf("WritePDR failed: %v", err)
	}
	if pdr.ID == "" {
		t.Error("PDR ID should not be empty")
	}
	if _, err := s.WritePDR("config.update", "def456", "success", "light.kitchen", ""); err != nil {
		t.Fatalf("WritePDR failed: %v", err)
	}

	all, err := s.ListPDR("", 0)
	if err != nil {
		t.Fatalf("ListPDR failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 PDR entries, got %d", len(all))
	}

	starts, _ := s.ListPDR("sim.start", 10)
	if len(starts) != 1 || starts[0].InputsHash != "abc123" {
		t.Errorf("Unexpected filtered PDR entries: %+v", starts)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Ping(ctx)
	if err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func newTestStore(t *testing.T) *Store {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}
