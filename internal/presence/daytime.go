// Package presence implements the presence-planning engine: learning usage
// patterns from entity history, estimating runtimes, and maintaining the
// rolling queue of planned on/off actions.
package presence

import (
	"fmt"
	"time"
)

// ClockTime is a time of day in minutes after midnight.
type ClockTime int

const minutesPerDay = 24 * 60

// ParseClock parses "HH:MM".
func ParseClock(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

// MustClock parses "HH:MM" and panics on error. For tests and constants.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the time of day of t in its own location.
func ClockOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the instant at this time of day on the calendar day of ref.
func (c ClockTime) On(ref time.Time) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, ref.Location())
}

// InWindow reports whether t lies in [start, end]. When start is after end
// the window crosses midnight.
func InWindow(t, start, end ClockTime) bool {
	if start <= end {
		return start <= t && t <= end
	}
	return t >= start || t <= end
}

// DayPhase is a coarse bucket of the day used to condition learned durations.
type DayPhase string

const (
	PhaseMorning DayPhase = "morning"
	PhaseDay     DayPhase = "day"
	PhaseEvening DayPhase = "evening"
	PhaseNight   DayPhase = "night"
)

// Phases lists every day phase in day order.
var Phases = []DayPhase{PhaseMorning, PhaseDay, PhaseEvening, PhaseNight}

// PhaseOf returns the day phase of t's local hour.
func PhaseOf(t time.Time) DayPhase {
	switch h := t.Hour(); {
	case h >= 5 && h < 9:
		return PhaseMorning
	case h >= 9 && h < 17:
		return PhaseDay
	case h >= 17 && h < 23:
		return PhaseEvening
	default:
		return PhaseNight
	}
}

// Rand is the random source used for plausibility jitter. *rand.Rand
// satisfies it; tests pass a fixed seed.
type Rand interface {
	Intn(n int) int
	Float64() float64
	Perm(n int) []int
}

// uniform returns an integer in [lo, hi].
func uniform(rng Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}
