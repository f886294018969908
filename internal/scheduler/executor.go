package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fentz26/presencesim/internal/config"
	"github.com/fentz26/presencesim/internal/connectors"
	"github.com/fentz26/presencesim/internal/metrics"
	"github.com/fentz26/presencesim/internal/models"
	"github.com/fentz26/presencesim/internal/presence"
)

// RunStore persists the run state and the executed action log.
type RunStore interface {
	GetRunState() (models.RunState, error)
	SaveRunState(state models.RunState) error
	RecordAction(at time.Time, entity string, action models.ActionKind, source models.ActionSource) (*models.ActionRecord, error)
}

// StepReport describes one executor iteration.
type StepReport struct {
	Time       time.Time             `json:"time"`
	Source     models.ActionSource   `json:"source"`
	Plan       presence.Summary      `json:"plan"`
	Executed   []models.ActionRecord `json:"executed"`
	Failed     int                   `json:"failed"`
	Skipped    int                   `json:"skipped"`
	Dark       bool                  `json:"dark"`
	DarkReason string                `json:"dark_reason,omitempty"`
}

// Status is a snapshot of the executor.
type Status struct {
	Running      bool        `json:"running"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	LastStep     *StepReport `json:"last_step,omitempty"`
	Queued       int         `json:"queued"`
	MinutesAhead int         `json:"minutes_ahead"`
}

// Executor polls the planner queue and fires due actions against the sink.
type Executor struct {
	planner *presence.Planner
	sink    connectors.CommandSink
	states  connectors.StateReader
	store   RunStore
	cfg     *config.Holder
	metrics *metrics.Metrics
	opts    Options

	// ctlMu serializes Start, Stop, Recover and Shutdown.
	ctlMu sync.Mutex

	// Lifecycle state
	mu        sync.Mutex
	running   bool
	startedAt *time.Time
	lastStep  *StepReport
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// stepMu keeps a manual step and the loop from interleaving.
	stepMu sync.Mutex
}

// New creates an executor. states and m may be nil.
func New(p *presence.Planner, sink connectors.CommandSink, states connectors.StateReader, rs RunStore, cfg *config.Holder, m *metrics.Metrics, opts Options) *Executor {
	return &Executor{
		planner: p,
		sink:    sink,
		states:  states,
		store:   rs,
		cfg:     cfg,
		metrics: m,
		opts:    opts.withDefaults(),
	}
}

// Start launches the loop. Starting a running executor returns the current
// state and false; at most one loop exists at a time.
func (e *Executor) Start() (models.RunState, bool, error) {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return e.runStateLocked(), false, nil
	}

	now := e.now()
	state := models.RunState{Running: true, StartedAt: &now}
	if err := e.store.SaveRunState(state); err != nil {
		return e.runStateLocked(), false, err
	}
	e.startLocked(now)
	log.Printf("Simulation started")
	return state, true, nil
}

// Stop halts the loop and clears the queue. The in-flight step, if any, is
// allowed to finish. Stopping a stopped executor returns false.
func (e *Executor) Stop() (models.RunState, bool, error) {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()

	e.mu.Lock()
	if !e.running {
		state := e.runStateLocked()
		e.mu.Unlock()
		return state, false, nil
	}
	e.running = false
	e.startedAt = nil
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.wg.Wait()

	dropped := e.planner.Reset()
	e.metrics.SetRunning(false)
	e.metrics.SetQueueDepth(0)
	log.Printf("Simulation stopped, dropped %d planned actions", dropped)

	state := models.RunState{}
	if err := e.store.SaveRunState(state); err != nil {
		return state, true, err
	}
	return state, true, nil
}

// Recover resumes a run that was in progress when the process last exited.
// The queue is rebuilt from scratch.
func (e *Executor) Recover() (models.RunState, error) {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()

	state, err := e.store.GetRunState()
	if err != nil {
		return models.RunState{}, err
	}
	if !state.Running {
		return state, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return e.runStateLocked(), nil
	}
	startedAt := e.now()
	if state.StartedAt != nil {
		startedAt = *state.StartedAt
	}
	e.startLocked(startedAt)
	log.Printf("Recovered simulation started at %s", startedAt.Format(time.RFC3339))
	return e.runStateLocked(), nil
}

// Shutdown stops the loop without touching the persisted run state, so the
// next process can recover it.
func (e *Executor) Shutdown() {
	e.ctlMu.Lock()
	defer e.ctlMu.Unlock()

	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.running = false
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

func (e *Executor) startLocked(startedAt time.Time) {
	ctx, cancel := context.WithCancel(context.Background())
	e.running = true
	e.startedAt = &startedAt
	e.cancel = cancel
	e.metrics.SetRunning(true)

	e.wg.Add(1)
	go e.loop(ctx)
}

// loop runs one step per tick until cancelled. The running flag is checked
// at the top of every iteration.
func (e *Executor) loop(ctx context.Context) {
	defer e.wg.Done()

	for {
		if !e.IsRunning() || ctx.Err() != nil {
			return
		}

		// Remote calls of a started step run to completion after Stop.
		e.Step(context.WithoutCancel(ctx), models.SourceSchedule)

		timer := time.NewTimer(e.tick())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Step runs one iteration: extend the plan, take due actions and fire them.
// Failed calls are logged and the action is spent either way.
func (e *Executor) Step(ctx context.Context, source models.ActionSource) StepReport {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	cfg := e.cfg.Current()
	now := e.now().Truncate(time.Minute)

	report := StepReport{
		Time:     now,
		Source:   source,
		Plan:     e.planner.Extend(ctx, cfg, now),
		Executed: []models.ActionRecord{},
		Dark:     true,
	}

	due := e.planner.TakeDue(now)
	darkChecked := false
	for _, a := range due {
		if !connectors.IsAllowed(a.Entity) {
			log.Printf("Executor: skipping %s on %s: domain not switchable", a.Action, a.Entity)
			e.metrics.ActionExecuted(string(a.Action), metrics.OutcomeSkipped)
			report.Skipped++
			continue
		}

		if a.Action == models.ActionTurnOn {
			if !darkChecked {
				report.Dark, report.DarkReason = presence.IsDark(ctx, e.states, cfg)
				darkChecked = true
			}
			if !report.Dark {
				log.Printf("Executor: skipping turn_on %s: %s", a.Entity, report.DarkReason)
				e.metrics.ActionExecuted(string(a.Action), metrics.OutcomeSkipped)
				report.Skipped++
				continue
			}
		}

		if err := e.sink.Call(ctx, models.Domain(a.Entity), string(a.Action), a.Entity); err != nil {
			log.Printf("Executor: %s %s failed: %v", a.Action, a.Entity, err)
			e.metrics.ActionExecuted(string(a.Action), metrics.OutcomeFailure)
			report.Failed++
			continue
		}
		e.metrics.ActionExecuted(string(a.Action), metrics.OutcomeSuccess)

		rec, err := e.store.RecordAction(e.now(), a.Entity, a.Action, source)
		if err != nil {
			log.Printf("Executor: record %s %s: %v", a.Action, a.Entity, err)
			continue
		}
		report.Executed = append(report.Executed, *rec)
		log.Printf("Executor: %s %s (%s)", a.Action, a.Entity, source)
	}

	e.metrics.SetQueueDepth(e.planner.Len())

	e.mu.Lock()
	last := report
	e.lastStep = &last
	e.mu.Unlock()
	return report
}

// IsRunning reports whether the loop is active.
func (e *Executor) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Status returns the current lifecycle state and queue depth.
func (e *Executor) Status() Status {
	e.mu.Lock()
	st := Status{
		Running:   e.running,
		StartedAt: e.startedAt,
		LastStep:  e.lastStep,
	}
	e.mu.Unlock()

	st.Queued = e.planner.Len()
	st.MinutesAhead = e.planner.MinutesAhead(e.now())
	return st
}

// Planner returns the planner the executor drains.
func (e *Executor) Planner() *presence.Planner {
	return e.planner
}

func (e *Executor) runStateLocked() models.RunState {
	return models.RunState{Running: e.running, StartedAt: e.startedAt}
}

func (e *Executor) now() time.Time {
	return e.opts.Now().In(e.opts.Location)
}

func (e *Executor) tick() time.Duration {
	if e.opts.Tick > 0 {
		return e.opts.Tick
	}
	if d := e.cfg.Current().Tick(); d > 0 {
		return d
	}
	return time.Duration(config.Defaults().TickSeconds) * time.Second
}
