// Package scheduler runs the executor loop that drains the planner queue.
package scheduler

import "time"

// Options tunes an Executor. Zero values fall back to defaults.
type Options struct {
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// Tick overrides the configured tick period when positive.
	Tick time.Duration
	// Location is the time zone planning happens in. Defaults to time.Local.
	Location *time.Location
}

// DefaultOptions returns the production options.
func DefaultOptions() Options {
	return Options{
		Now:      time.Now,
		Location: time.Local,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Now == nil {
		o.Now = def.Now
	}
	if o.Location == nil {
		o.Location = def.Location
	}
	return o
}
