package presence

import (
	"strings"
	"time"

	"github.com/fentz26/presencesim/internal/models"
)

// Bounds of a plausible on-duration in minutes.
const (
	MinDurationMinutes = 1
	MaxDurationMinutes = 300
)

// DurationSamples maps a day phase to observed on-durations in minutes.
type DurationSamples map[DayPhase][]int

// Count returns the number of samples recorded for phase.
func (s DurationSamples) Count(phase DayPhase) int {
	return len(s[phase])
}

// parseTimestamp accepts the ISO-8601 forms Home Assistant emits. Timestamps
// without an offset are read as wall time in loc.
func parseTimestamp(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07:00"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}

// normalizeState maps a raw state to "on", "off" or "".
func normalizeState(raw string) string {
	switch s := strings.ToLower(strings.TrimSpace(raw)); s {
	case "on", "off":
		return s
	}
	return ""
}

// Learn pairs each "on" with the following "off" and buckets the elapsed
// minutes under the day phase of the "on". Pairs outside
// [MinDurationMinutes, MaxDurationMinutes] are discarded, as are records with
// malformed timestamps or states other than on/off. An "on" still pending
// when the data ends has no completed interval and is dropped.
func Learn(events []models.HistoryEvent, loc *time.Location) DurationSamples {
	samples := make(DurationSamples)
	var pendingOn time.Time
	var pendingPhase DayPhase
	havePending := false

	for _, ev := range events {
		ts, ok := parseTimestamp(ev.Timestamp(), loc)
		if !ok {
			continue
		}
		ts = ts.In(loc)

		switch normalizeState(ev.State) {
		case "on":
			// Repeated "on" reports keep the earliest pending start.
			if !havePending {
				pendingOn = ts
				pendingPhase = PhaseOf(ts)
				havePending = true
			}
		case "off":
			if !havePending {
				continue
			}
			minutes := int(ts.Sub(pendingOn) / time.Minute)
			if minutes >= MinDurationMinutes && minutes <= MaxDurationMinutes {
				samples[pendingPhase] = append(samples[pendingPhase], minutes)
			}
			havePending = false
		}
	}
	return samples
}

// OnTimes returns the time of day of every "on" event.
func OnTimes(events []models.HistoryEvent, loc *time.Location) []ClockTime {
	var out []ClockTime
	for _, ev := range events {
		if normalizeState(ev.State) != "on" {
			continue
		}
		ts, ok := parseTimestamp(ev.Timestamp(), loc)
		if !ok {
			continue
		}
		out = append(out, ClockOf(ts.In(loc)))
	}
	return out
}

// SlotProfile returns, per slot of slotMinutes, the share of on/off reports
// in that slot that were "on". Slots without reports are 0.
func SlotProfile(events []models.HistoryEvent, loc *time.Location, slotMinutes int) []float64 {
	if slotMinutes <= 0 {
		slotMinutes = 15
	}
	slots := (minutesPerDay + slotMinutes - 1) / slotMinutes
	on := make([]int, slots)
	total := make([]int, slots)

	for _, ev := range events {
		state := normalizeState(ev.State)
		if state == "" {
			continue
		}
		ts, ok := parseTimestamp(ev.Timestamp(), loc)
		if !ok {
			continue
		}
		slot := int(ClockOf(ts.In(loc))) / slotMinutes
		total[slot]++
		if state == "on" {
			on[slot]++
		}
	}

	profile := make([]float64, slots)
	for i := range profile {
		if total[i] > 0 {
			profile[i] = float64(on[i]) / float64(total[i])
		}
	}
	return profile
}
