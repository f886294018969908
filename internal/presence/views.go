package presence

import (
	"sort"
	"time"

	"github.com/fentz26/presencesim/internal/models"
)

// Session is a planned on period of one entity.
type Session struct {
	Entity  string     `json:"entity"`
	On      *time.Time `json:"on,omitempty"`
	Off     *time.Time `json:"off,omitempty"`
	Minutes int        `json:"minutes,omitempty"`
}

// Sessions pairs queued turn_on/turn_off actions per entity. An off without
// a preceding on (its on already fired) yields a session with only Off set.
func Sessions(actions []models.PlannedAction) map[string][]Session {
	sorted := append([]models.PlannedAction(nil), actions...)
	sortActions(sorted)

	out := make(map[string][]Session)
	open := make(map[string]int)
	for _, a := range sorted {
		t := a.Time
		switch a.Action {
		case models.ActionTurnOn:
			out[a.Entity] = append(out[a.Entity], Session{Entity: a.Entity, On: &t})
			open[a.Entity] = len(out[a.Entity]) - 1
		case models.ActionTurnOff:
			if i, ok := open[a.Entity]; ok {
				s := &out[a.Entity][i]
				s.Off = &t
				s.Minutes = int(t.Sub(*s.On) / time.Minute)
				delete(open, a.Entity)
				continue
			}
			out[a.Entity] = append(out[a.Entity], Session{Entity: a.Entity, Off: &t})
		}
	}
	return out
}

// Upcoming returns up to count queued actions at or after now.
func Upcoming(actions []models.PlannedAction, now time.Time, count int) []models.PlannedAction {
	sorted := append([]models.PlannedAction(nil), actions...)
	sortActions(sorted)
	idx := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Time.Before(now) })
	sorted = sorted[idx:]
	if count > 0 && len(sorted) > count {
		sorted = sorted[:count]
	}
	return sorted
}

// SlotCounts counts turn_on actions per slot of slotMinutes, per entity.
func SlotCounts(times map[string][]time.Time, loc *time.Location, slotMinutes int) map[string][]int {
	if slotMinutes <= 0 {
		slotMinutes = 15
	}
	slots := (minutesPerDay + slotMinutes - 1) / slotMinutes
	out := make(map[string][]int, len(times))
	for entity, ts := range times {
		counts := make([]int, slots)
		for _, t := range ts {
			counts[int(ClockOf(t.In(loc)))/slotMinutes]++
		}
		out[entity] = counts
	}
	return out
}
