package presence

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/presencesim/internal/config"
	"github.com/fentz26/presencesim/internal/connectors"
	"github.com/fentz26/presencesim/internal/models"
)

const (
	// PruneGrace is how far in the past a queued action may be before it is
	// dropped without firing.
	PruneGrace = 5 * time.Minute

	// fallbackInclusion is the chance an evenly spaced fallback instant is kept.
	fallbackInclusion = 0.25

	// Emergency seeding offsets from now.
	emergencyOnDelay  = 10 * time.Minute
	emergencyOffDelay = 30 * time.Minute

	minSampledOnTimes = 6
)

// Summary reports the outcome of an Extend call.
type Summary struct {
	Extended     bool `json:"extended"`
	Added        int  `json:"added"`
	MinutesAhead int  `json:"minutes_ahead"`
	PlannedCount int  `json:"planned_count"`
}

// Observer receives planner events.
type Observer interface {
	HistoryFetchFailed(entity string)
	PlanExtended(added, queued int)
	// ActionExpired is called for each action dropped unexecuted because
	// it fell more than PruneGrace behind.
	ActionExpired(action string)
}

// Planner owns the rolling queue of planned actions for all entities.
type Planner struct {
	source connectors.HistorySource
	rng    Rand
	obs    Observer

	mu    sync.Mutex
	queue []models.PlannedAction
}

// NewPlanner creates a planner with an empty queue.
func NewPlanner(source connectors.HistorySource, rng Rand) *Planner {
	return &Planner{
		source: source,
		rng:    rng,
	}
}

// SetObserver wires an observer for planner events.
func (p *Planner) SetObserver(obs Observer) {
	p.mu.Lock()
	p.obs = obs
	p.mu.Unlock()
}

// Extend tops up the queue so it covers at least the refill threshold.
// It never fails: fetch errors and empty histories degrade to fallbacks.
func (p *Planner) Extend(ctx context.Context, cfg config.SimConfig, now time.Time) Summary {
	now = now.Truncate(time.Minute)

	p.mu.Lock()
	p.pruneLocked(now)
	p.capLocked(cfg.MaxFutureActions)
	if p.stockedLocked(cfg, now) {
		s := p.summaryLocked(now, false, 0)
		p.mu.Unlock()
		return s
	}
	obs := p.obs
	p.mu.Unlock()

	// History is fetched without holding the queue lock.
	histories := make(map[string][]models.HistoryEvent, len(cfg.Entities))
	for _, entity := range cfg.Entities {
		events, err := p.source.History(ctx, entity, cfg.LookbackDays)
		if err != nil {
			log.Printf("Planner: history fetch failed for %s: %v", entity, err)
			if obs != nil {
				obs.HistoryFetchFailed(entity)
			}
			continue
		}
		histories[entity] = events
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneLocked(now)
	if p.stockedLocked(cfg, now) {
		// A concurrent extend filled the queue while we were fetching.
		return p.summaryLocked(now, false, 0)
	}

	start, end := windowBounds(cfg)
	keys := p.keySetLocked()
	added := 0

	for _, entity := range cfg.Entities {
		events := histories[entity]
		samples := Learn(events, now.Location())

		candidates := p.historyCandidates(events, cfg, now, start, end)
		if len(candidates) == 0 {
			candidates = p.fallbackCandidates(cfg, now, start, end)
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })

		n, full := p.materializeLocked(entity, candidates, samples, cfg, keys)
		added += n
		if full {
			break
		}
	}

	if len(p.queue) == 0 && len(cfg.Entities) > 0 {
		added += p.seedEmergencyLocked(cfg, now)
	}

	sortActions(p.queue)
	if obs != nil {
		obs.PlanExtended(added, len(p.queue))
	}
	return p.summaryLocked(now, true, added)
}

// historyCandidates maps a random sample of historical on-times to their
// earliest occurrence at or after now, keeping those inside the horizon and
// the active window.
func (p *Planner) historyCandidates(events []models.HistoryEvent, cfg config.SimConfig, now time.Time, start, end ClockTime) []time.Time {
	onTimes := OnTimes(events, now.Location())
	if len(onTimes) == 0 {
		return nil
	}

	limit := cfg.SessionsPerEntity * 3
	if limit < minSampledOnTimes {
		limit = minSampledOnTimes
	}
	order := p.rng.Perm(len(onTimes))
	if len(order) > limit {
		order = order[:limit]
	}

	horizonEnd := now.Add(time.Duration(cfg.PlanHorizonMinutes) * time.Minute)
	var out []time.Time
	for _, i := range order {
		t := nextOccurrence(onTimes[i], now)
		if t.After(horizonEnd) {
			continue
		}
		if !InWindow(ClockOf(t), start, end) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// fallbackCandidates returns evenly spaced instants inside the horizon and
// the active window, each kept independently with a fixed probability.
func (p *Planner) fallbackCandidates(cfg config.SimConfig, now time.Time, start, end ClockTime) []time.Time {
	step := cfg.SlotMinutes
	if step <= 0 {
		step = config.Defaults().SlotMinutes
	}

	var out []time.Time
	for m := step; m <= cfg.PlanHorizonMinutes; m += step {
		t := now.Add(time.Duration(m) * time.Minute)
		if !InWindow(ClockOf(t), start, end) {
			continue
		}
		if p.rng.Float64() < fallbackInclusion {
			out = append(out, t)
		}
	}
	return out
}

// materializeLocked turns sorted on-time candidates into on/off pairs for
// entity. It reports how many actions were added and whether the queue cap
// was hit.
func (p *Planner) materializeLocked(entity string, candidates []time.Time, samples DurationSamples, cfg config.SimConfig, keys map[models.ActionKey]bool) (int, bool) {
	added := 0
	chosen := 0
	busyUntil := p.lastActionLocked(entity)

	for _, on := range candidates {
		if chosen >= cfg.SessionsPerEntity {
			break
		}
		if !busyUntil.IsZero() && !on.After(busyUntil) {
			continue
		}

		runtime := EstimateRuntime(samples, PhaseOf(on), p.rng)
		off := on.Add(time.Duration(runtime) * time.Minute)

		onAction := models.PlannedAction{Time: on, Entity: entity, Action: models.ActionTurnOn}
		offAction := models.PlannedAction{Time: off, Entity: entity, Action: models.ActionTurnOff}
		if keys[onAction.Key()] || keys[offAction.Key()] {
			continue
		}
		if len(p.queue)+2 > cfg.MaxFutureActions {
			return added, true
		}

		p.queue = append(p.queue, onAction, offAction)
		keys[onAction.Key()] = true
		keys[offAction.Key()] = true
		added += 2
		chosen++
		busyUntil = off
	}
	return added, false
}

// seedEmergencyLocked plants one on/off pair per entity so the executor
// always has work, ignoring the active window.
func (p *Planner) seedEmergencyLocked(cfg config.SimConfig, now time.Time) int {
	added := 0
	for _, entity := range cfg.Entities {
		if len(p.queue)+2 > cfg.MaxFutureActions {
			break
		}
		p.queue = append(p.queue,
			models.PlannedAction{Time: now.Add(emergencyOnDelay), Entity: entity, Action: models.ActionTurnOn},
			models.PlannedAction{Time: now.Add(emergencyOffDelay), Entity: entity, Action: models.ActionTurnOff},
		)
		added += 2
	}
	log.Printf("Planner: no usable candidates, seeded fallback actions for %d entities", added/2)
	return added
}

// TakeDue removes and returns every action due at or before now.
func (p *Planner) TakeDue(now time.Time) []models.PlannedAction {
	p.mu.Lock()
	defer p.mu.Unlock()

	var due []models.PlannedAction
	spent := make(map[models.ActionKey]bool)
	for _, a := range p.queue {
		if !a.Time.After(now) {
			due = append(due, a)
			spent[a.Key()] = true
		}
	}
	if len(due) == 0 {
		return nil
	}

	kept := p.queue[:0]
	for _, a := range p.queue {
		if !spent[a.Key()] {
			kept = append(kept, a)
		}
	}
	p.queue = kept
	return due
}

// Retain drops queued actions for entities that are no longer configured.
func (p *Planner) Retain(entities []string) int {
	keep := make(map[string]bool, len(entities))
	for _, e := range entities {
		keep[e] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.queue[:0]
	for _, a := range p.queue {
		if keep[a.Entity] {
			kept = append(kept, a)
		}
	}
	dropped := len(p.queue) - len(kept)
	p.queue = kept
	return dropped
}

// Reset empties the queue and returns how many actions were dropped.
func (p *Planner) Reset() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.queue)
	p.queue = nil
	return n
}

// Snapshot returns a copy of the queue in time order.
func (p *Planner) Snapshot() []models.PlannedAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.PlannedAction(nil), p.queue...)
}

// Len returns the number of queued actions.
func (p *Planner) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// MinutesAhead returns how far the queue reaches past now.
func (p *Planner) MinutesAhead(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minutesAheadLocked(now.Truncate(time.Minute))
}

func (p *Planner) pruneLocked(now time.Time) {
	cutoff := now.Add(-PruneGrace)
	kept := p.queue[:0]
	for _, a := range p.queue {
		if !a.Time.Before(cutoff) {
			kept = append(kept, a)
			continue
		}
		log.Printf("Planner: dropping expired %s %s planned for %s", a.Action, a.Entity, a.Time.Format("15:04"))
		if p.obs != nil {
			p.obs.ActionExpired(string(a.Action))
		}
	}
	p.queue = kept
	sortActions(p.queue)
}

// capLocked trims the farthest actions when the queue is over max, e.g.
// after the cap was lowered. A turn_on whose turn_off was cut goes too.
func (p *Planner) capLocked(max int) {
	if max <= 0 || len(p.queue) <= max {
		return
	}
	p.queue = p.queue[:max]

	open := make(map[string]int)
	for i, a := range p.queue {
		if a.Action == models.ActionTurnOn {
			open[a.Entity] = i
		} else {
			delete(open, a.Entity)
		}
	}
	if len(open) == 0 {
		return
	}
	dangling := make(map[int]bool, len(open))
	for _, i := range open {
		dangling[i] = true
	}
	kept := p.queue[:0]
	for i, a := range p.queue {
		if !dangling[i] {
			kept = append(kept, a)
		}
	}
	p.queue = kept
}

// stockedLocked reports whether the queue already reaches far enough.
// An empty queue is never stocked.
func (p *Planner) stockedLocked(cfg config.SimConfig, now time.Time) bool {
	return len(p.queue) > 0 && p.minutesAheadLocked(now) >= cfg.RefillThresholdMinutes
}

func (p *Planner) minutesAheadLocked(now time.Time) int {
	if len(p.queue) == 0 {
		return 0
	}
	ahead := int(p.queue[len(p.queue)-1].Time.Sub(now) / time.Minute)
	if ahead < 0 {
		return 0
	}
	return ahead
}

func (p *Planner) summaryLocked(now time.Time, extended bool, added int) Summary {
	return Summary{
		Extended:     extended,
		Added:        added,
		MinutesAhead: p.minutesAheadLocked(now),
		PlannedCount: len(p.queue),
	}
}

func (p *Planner) keySetLocked() map[models.ActionKey]bool {
	keys := make(map[models.ActionKey]bool, len(p.queue))
	for _, a := range p.queue {
		keys[a.Key()] = true
	}
	return keys
}

func (p *Planner) lastActionLocked(entity string) time.Time {
	var last time.Time
	for _, a := range p.queue {
		if a.Entity == entity && a.Time.After(last) {
			last = a.Time
		}
	}
	return last
}

// nextOccurrence returns the earliest instant at time of day c that is not
// before now. Days are only ever shifted forward.
func nextOccurrence(c ClockTime, now time.Time) time.Time {
	for day := 0; ; day++ {
		t := c.On(now.AddDate(0, 0, day))
		if !t.Before(now) {
			return t
		}
	}
}

func windowBounds(cfg config.SimConfig) (ClockTime, ClockTime) {
	def := config.Defaults()
	start, err := ParseClock(cfg.WindowStart)
	if err != nil {
		start = MustClock(def.WindowStart)
	}
	end, err := ParseClock(cfg.WindowEnd)
	if err != nil {
		end = MustClock(def.WindowEnd)
	}
	return start, end
}

// sortActions orders by time, then entity, with turn_on before turn_off.
func sortActions(actions []models.PlannedAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		a, b := actions[i], actions[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.Action == models.ActionTurnOn && b.Action != models.ActionTurnOn
	})
}
