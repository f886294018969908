// Package controlplane provides the HTTP API and service layer for presencesim.
package controlplane

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/presencesim/internal/audit"
	"github.com/fentz26/presencesim/internal/config"
	"github.com/fentz26/presencesim/internal/connectors"
	"github.com/fentz26/presencesim/internal/models"
	"github.com/fentz26/presencesim/internal/presence"
	"github.com/fentz26/presencesim/internal/scheduler"
	"github.com/fentz26/presencesim/internal/store"
)

const (
	defaultPreviewCount = 10
	maxPreviewCount     = 200
	defaultHistoryLimit = 50
)

// StatusResponse is the simulation status.
type StatusResponse struct {
	scheduler.Status
	Entities  []string   `json:"entities"`
	Window    string     `json:"window"`
	LastTrain *time.Time `json:"last_train,omitempty"`
	Now       time.Time  `json:"now"`
}

// Heatmap counts turn_on actions per time slot and entity, over the executed
// history and the queue.
type Heatmap struct {
	SlotMinutes int              `json:"slot_minutes"`
	Entities    map[string][]int `json:"entities"`
}

// EntityModel summarizes what was learned for one entity.
type EntityModel struct {
	Entity  string                    `json:"entity"`
	Events  int                       `json:"events"`
	Samples map[presence.DayPhase]int `json:"samples"`
	OnTimes int                       `json:"on_times"`
	Profile []float64                 `json:"profile"`
	Error   string                    `json:"error,omitempty"`
}

// TrainResult is the outcome of a training pass.
type TrainResult struct {
	TrainedAt    time.Time     `json:"trained_at"`
	LookbackDays int           `json:"lookback_days"`
	SlotMinutes  int           `json:"slot_minutes"`
	Entities     []EntityModel `json:"entities"`
}

// Service provides the control plane business logic.
type Service struct {
	store *store.Store
	pdr   *audit.PDRWriter
	exec  *scheduler.Executor
	cfg   *config.Holder

	states  connectors.StateReader
	history connectors.HistorySource
	options map[string]interface{}
	now     func() time.Time

	mu        sync.Mutex
	lastTrain *TrainResult
}

// NewService creates a new control plane service.
func NewService(s *store.Store, pdr *audit.PDRWriter, exec *scheduler.Executor, cfg *config.Holder) *Service {
	return &Service{
		store:   s,
		pdr:     pdr,
		exec:    exec,
		cfg:     cfg,
		options: map[string]interface{}{},
		now:     time.Now,
	}
}

// SetHomeAssistant wires the state reader and history source used by the
// entities and train operations.
func (s *Service) SetHomeAssistant(states connectors.StateReader, history connectors.HistorySource) {
	s.states = states
	s.history = history
}

// SetOptions sets the options-file layer that saved overrides apply on top of.
func (s *Service) SetOptions(options map[string]interface{}) {
	if options == nil {
		options = map[string]interface{}{}
	}
	s.options = options
}

// SetClock replaces the wall clock. It should match the executor's clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// LoadConfig rebuilds the live config from the options layer and the saved
// overrides.
func (s *Service) LoadConfig() (config.SimConfig, error) {
	saved, err := s.store.LoadSettings()
	if err != nil {
		return config.SimConfig{}, fmt.Errorf("load settings: %w", err)
	}
	cfg := config.FromMap(config.Merge(s.options, saved))
	s.cfg.Set(cfg)
	return cfg, nil
}

// --- Simulation lifecycle ---

// Status returns the executor status plus config context.
func (s *Service) Status() StatusResponse {
	cfg := s.cfg.Current()
	resp := StatusResponse{
		Status:   s.exec.Status(),
		Entities: cfg.Entities,
		Window:   cfg.WindowStart + "-" + cfg.WindowEnd,
		Now:      s.now(),
	}
	s.mu.Lock()
	if s.lastTrain != nil {
		t := s.lastTrain.TrainedAt
		resp.LastTrain = &t
	}
	s.mu.Unlock()
	return resp
}

// Start starts the simulation loop; starting twice is a no-op.
func (s *Service) Start() (models.RunState, error) {
	state, started, err := s.exec.Start()
	if err != nil {
		s.pdr.Record(audit.ActionSimStart, nil, audit.OutcomeFailure, "", err.Error())
		return state, err
	}
	outcome := audit.OutcomeSuccess
	if !started {
		outcome = audit.OutcomeNoop
	}
	s.pdr.Record(audit.ActionSimStart, nil, outcome, "", "")
	return state, nil
}

// Stop stops the loop and clears the queue.
func (s *Service) Stop() (models.RunState, error) {
	state, stopped, err := s.exec.Stop()
	if err != nil {
		s.pdr.Record(audit.ActionSimStop, nil, audit.OutcomeFailure, "", err.Error())
		return state, err
	}
	outcome := audit.OutcomeSuccess
	if !stopped {
		outcome = audit.OutcomeNoop
	}
	s.pdr.Record(audit.ActionSimStop, nil, outcome, "", "")
	return state, nil
}

// Step runs one executor iteration immediately.
func (s *Service) Step(ctx context.Context) scheduler.StepReport {
	report := s.exec.Step(ctx, models.SourceManual)
	s.pdr.Record(audit.ActionSimStep, map[string]interface{}{"time": report.Time}, audit.OutcomeSuccess, "",
		fmt.Sprintf("added=%d executed=%d failed=%d skipped=%d", report.Plan.Added, len(report.Executed), report.Failed, report.Skipped))
	return report
}

// --- Configuration ---

// Config returns the live configuration.
func (s *Service) Config() config.SimConfig {
	return s.cfg.Current()
}

// UpdateConfig validates and persists overrides, then applies the merged
// config. Queued actions of entities no longer configured are dropped.
func (s *Service) UpdateConfig(patch map[string]interface{}) (config.SimConfig, error) {
	if len(patch) == 0 {
		return config.SimConfig{}, fmt.Errorf("%w: no keys given", ErrInvalidConfig)
	}
	if err := config.Validate(patch); err != nil {
		return config.SimConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	overrides := config.Normalize(patch)
	if err := s.store.SaveSettings(overrides); err != nil {
		s.pdr.Record(audit.ActionConfigUpdate, overrides, audit.OutcomeFailure, "", err.Error())
		return config.SimConfig{}, err
	}

	cfg, err := s.LoadConfig()
	if err != nil {
		return config.SimConfig{}, err
	}
	dropped := s.exec.Planner().Retain(cfg.Entities)
	if dropped > 0 {
		log.Printf("Config: dropped %d queued actions of removed entities", dropped)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.pdr.Record(audit.ActionConfigUpdate, overrides, audit.OutcomeSuccess, "", strings.Join(keys, ","))
	return cfg, nil
}

// --- Projections ---

// Preview returns the next count queued actions.
func (s *Service) Preview(count int) []models.PlannedAction {
	if count <= 0 {
		count = defaultPreviewCount
	}
	if count > maxPreviewCount {
		count = maxPreviewCount
	}
	// Actions inside the prune grace are still pending.
	from := s.now().Truncate(time.Minute).Add(-presence.PruneGrace)
	return presence.Upcoming(s.exec.Planner().Snapshot(), from, count)
}

// Timeline groups the queue into per-entity sessions.
func (s *Service) Timeline() map[string][]presence.Session {
	return presence.Sessions(s.exec.Planner().Snapshot())
}

// Heatmap counts executed and planned turn_on actions per slot.
func (s *Service) Heatmap() (*Heatmap, error) {
	cfg := s.cfg.Current()
	records, err := s.store.ListActions(0)
	if err != nil {
		return nil, err
	}

	times := make(map[string][]time.Time)
	for _, e := range cfg.Entities {
		times[e] = nil
	}
	for _, r := range records {
		if r.Action == models.ActionTurnOn {
			times[r.Entity] = append(times[r.Entity], r.Time)
		}
	}
	for _, a := range s.exec.Planner().Snapshot() {
		if a.Action == models.ActionTurnOn {
			times[a.Entity] = append(times[a.Entity], a.Time)
		}
	}

	return &Heatmap{
		SlotMinutes: cfg.SlotMinutes,
		Entities:    presence.SlotCounts(times, s.now().Location(), cfg.SlotMinutes),
	}, nil
}

// History returns executed actions newest first.
func (s *Service) History(limit int) ([]models.ActionRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.store.ListActions(limit)
}

// Entities lists the switchable entities Home Assistant knows about.
func (s *Service) Entities(ctx context.Context) ([]models.Entity, error) {
	if s.states == nil {
		return nil, ErrUnavailable
	}
	states, err := s.states.States(ctx)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}

	entities := make([]models.Entity, 0, len(states))
	for _, st := range states {
		if !connectors.IsAllowed(st.EntityID) {
			continue
		}
		entities = append(entities, models.Entity{
			EntityID: st.EntityID,
			Name:     st.FriendlyName(),
			Domain:   models.Domain(st.EntityID),
		})
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].EntityID < entities[j].EntityID })
	return entities, nil
}

// Train learns a per-entity summary from history. A failed fetch is
// reported on that entity and does not fail the pass.
func (s *Service) Train(ctx context.Context) (*TrainResult, error) {
	if s.history == nil {
		return nil, ErrUnavailable
	}
	cfg := s.cfg.Current()
	now := s.now()
	loc := now.Location()

	result := &TrainResult{
		TrainedAt:    now,
		LookbackDays: cfg.LookbackDays,
		SlotMinutes:  cfg.SlotMinutes,
		Entities:     make([]EntityModel, 0, len(cfg.Entities)),
	}
	for _, entity := range cfg.Entities {
		m := EntityModel{Entity: entity, Samples: make(map[presence.DayPhase]int, len(presence.Phases))}
		events, err := s.history.History(ctx, entity, cfg.LookbackDays)
		if err != nil {
			m.Error = err.Error()
			result.Entities = append(result.Entities, m)
			continue
		}

		samples := presence.Learn(events, loc)
		for _, phase := range presence.Phases {
			m.Samples[phase] = samples.Count(phase)
		}
		m.Events = len(events)
		m.OnTimes = len(presence.OnTimes(events, loc))
		m.Profile = presence.SlotProfile(events, loc, cfg.SlotMinutes)
		result.Entities = append(result.Entities, m)
	}

	s.mu.Lock()
	s.lastTrain = result
	s.mu.Unlock()

	s.pdr.Record(audit.ActionModelTrain, cfg.Entities, audit.OutcomeSuccess, "",
		fmt.Sprintf("entities=%d lookback_days=%d", len(cfg.Entities), cfg.LookbackDays))
	return result, nil
}

// LastTrain returns the most recent training result, if any.
func (s *Service) LastTrain() *TrainResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTrain
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
