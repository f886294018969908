// Package config holds the simulation configuration and its layered loading.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Darkness modes.
const (
	DarknessNone = "none"
	DarknessSun  = "sun"
	DarknessLux  = "lux"
)

// SimConfig is the flat key/value simulation configuration.
type SimConfig struct {
	// Entities are the controllable devices to simulate.
	Entities []string `json:"entities" yaml:"entities"`
	// WindowStart and WindowEnd bound the active window as "HH:MM".
	// A start after the end means the window crosses midnight.
	WindowStart string `json:"window_start" yaml:"window_start"`
	WindowEnd   string `json:"window_end" yaml:"window_end"`
	// LookbackDays is the history window used for learning.
	LookbackDays int `json:"lookback_days" yaml:"lookback_days"`
	// SlotMinutes is the spacing of fallback instants and heatmap slots.
	SlotMinutes int `json:"slot_minutes" yaml:"slot_minutes"`
	// PlanHorizonMinutes is how far ahead a single extend may plan.
	PlanHorizonMinutes int `json:"plan_horizon_minutes" yaml:"plan_horizon_minutes"`
	// RefillThresholdMinutes is the lookahead below which the queue is extended.
	RefillThresholdMinutes int `json:"refill_threshold_minutes" yaml:"refill_threshold_minutes"`
	// SessionsPerEntity caps on/off sessions added per entity per extend.
	SessionsPerEntity int `json:"sessions_per_entity" yaml:"sessions_per_entity"`
	// MaxFutureActions caps the total queue length.
	MaxFutureActions int `json:"max_future_actions" yaml:"max_future_actions"`
	// TickSeconds is the executor loop period.
	TickSeconds int `json:"tick_seconds" yaml:"tick_seconds"`

	DarknessMode   string `json:"darkness_mode" yaml:"darkness_mode"` // none|sun|lux
	DarknessEntity string `json:"darkness_entity" yaml:"darkness_entity"`
	DarkState      string `json:"dark_state" yaml:"dark_state"`
	LuxThreshold   int    `json:"lux_threshold" yaml:"lux_threshold"`
}

// Defaults returns the default simulation configuration.
func Defaults() SimConfig {
	return SimConfig{
		Entities:               []string{},
		WindowStart:            "18:00",
		WindowEnd:              "23:30",
		LookbackDays:           14,
		SlotMinutes:            15,
		PlanHorizonMinutes:     360,
		RefillThresholdMinutes: 120,
		SessionsPerEntity:      2,
		MaxFutureActions:       200,
		TickSeconds:            30,
		DarknessMode:           DarknessNone,
		DarknessEntity:         "sun.sun",
		DarkState:              "below_horizon",
		LuxThreshold:           30,
	}
}

// Keys lists every recognised configuration key.
var Keys = []string{
	"entities", "window_start", "window_end", "lookback_days", "slot_minutes",
	"plan_horizon_minutes", "refill_threshold_minutes", "sessions_per_entity",
	"max_future_actions", "tick_seconds", "darkness_mode", "darkness_entity",
	"dark_state", "lux_threshold",
}

// aliases maps keys used by older add-on option files to current keys.
var aliases = map[string]string{
	"training_days": "lookback_days",
	"start_time":    "window_start",
	"end_time":      "window_end",
}

// Normalize rewrites aliased keys and drops unknown ones.
func Normalize(m map[string]interface{}) map[string]interface{} {
	known := make(map[string]bool, len(Keys))
	for _, k := range Keys {
		known[k] = true
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if alias, ok := aliases[k]; ok {
			if _, set := m[alias]; set {
				continue
			}
			k = alias
		}
		if known[k] {
			out[k] = v
		}
	}
	return out
}

// Merge overlays layers left to right; later layers win.
func Merge(layers ...map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for _, layer := range layers {
		for k, v := range Normalize(layer) {
			out[k] = v
		}
	}
	return out
}

// intMinimums is the smallest accepted value of every integer key.
var intMinimums = map[string]int{
	"lookback_days":            1,
	"slot_minutes":             1,
	"plan_horizon_minutes":     1,
	"refill_threshold_minutes": 0,
	"sessions_per_entity":      1,
	"max_future_actions":       2,
	"tick_seconds":             1,
	"lux_threshold":            0,
}

// Validate reports the first unknown key or unusable value in a layer.
// FromMap would silently replace such values with defaults.
func Validate(m map[string]interface{}) error {
	known := make(map[string]bool, len(Keys))
	for _, k := range Keys {
		known[k] = true
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := m[k]
		key := k
		if alias, ok := aliases[k]; ok {
			key = alias
		}
		if !known[key] {
			return fmt.Errorf("unknown key %q", k)
		}

		switch key {
		case "entities":
			if _, ok := toStrings(v); !ok {
				return fmt.Errorf("%s: want a list of entity ids", k)
			}
		case "window_start", "window_end":
			if _, ok := toClock(v); !ok {
				return fmt.Errorf("%s: want HH:MM, got %v", k, v)
			}
		case "darkness_mode":
			s, _ := v.(string)
			switch strings.ToLower(strings.TrimSpace(s)) {
			case DarknessNone, DarknessSun, DarknessLux:
			default:
				return fmt.Errorf("%s: want none, sun or lux, got %v", k, v)
			}
		case "darkness_entity", "dark_state":
			if s, ok := v.(string); !ok || strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s: want a non-empty string", k)
			}
		default:
			n, ok := toInt(v)
			if !ok {
				return fmt.Errorf("%s: want an integer, got %v", k, v)
			}
			if n < intMinimums[key] {
				return fmt.Errorf("%s: must be at least %d", k, intMinimums[key])
			}
		}
	}
	return nil
}

// FromMap builds a SimConfig, filling missing or invalid fields from defaults.
func FromMap(m map[string]interface{}) SimConfig {
	cfg := Defaults()
	m = Normalize(m)

	if v, ok := m["entities"]; ok {
		if entities, ok := toStrings(v); ok {
			cfg.Entities = entities
		}
	}
	if s, ok := toClock(m["window_start"]); ok {
		cfg.WindowStart = s
	}
	if s, ok := toClock(m["window_end"]); ok {
		cfg.WindowEnd = s
	}

	ints := map[string]*int{
		"lookback_days":            &cfg.LookbackDays,
		"slot_minutes":             &cfg.SlotMinutes,
		"plan_horizon_minutes":     &cfg.PlanHorizonMinutes,
		"refill_threshold_minutes": &cfg.RefillThresholdMinutes,
		"sessions_per_entity":      &cfg.SessionsPerEntity,
		"max_future_actions":       &cfg.MaxFutureActions,
		"tick_seconds":             &cfg.TickSeconds,
		"lux_threshold":            &cfg.LuxThreshold,
	}
	for key, dst := range ints {
		if n, ok := toInt(m[key]); ok && n >= intMinimums[key] {
			*dst = n
		}
	}

	if s, ok := m["darkness_mode"].(string); ok {
		switch mode := strings.ToLower(strings.TrimSpace(s)); mode {
		case DarknessNone, DarknessSun, DarknessLux:
			cfg.DarknessMode = mode
		}
	}
	if s, ok := m["darkness_entity"].(string); ok && strings.TrimSpace(s) != "" {
		cfg.DarknessEntity = strings.TrimSpace(s)
	}
	if s, ok := m["dark_state"].(string); ok && strings.TrimSpace(s) != "" {
		cfg.DarkState = strings.TrimSpace(s)
	}
	return cfg
}

// ToMap renders the config as a flat key/value document.
func (c SimConfig) ToMap() map[string]interface{} {
	entities := c.Entities
	if entities == nil {
		entities = []string{}
	}
	return map[string]interface{}{
		"entities":                 entities,
		"window_start":             c.WindowStart,
		"window_end":               c.WindowEnd,
		"lookback_days":            c.LookbackDays,
		"slot_minutes":             c.SlotMinutes,
		"plan_horizon_minutes":     c.PlanHorizonMinutes,
		"refill_threshold_minutes": c.RefillThresholdMinutes,
		"sessions_per_entity":      c.SessionsPerEntity,
		"max_future_actions":       c.MaxFutureActions,
		"tick_seconds":             c.TickSeconds,
		"darkness_mode":            c.DarknessMode,
		"darkness_entity":          c.DarknessEntity,
		"dark_state":               c.DarkState,
		"lux_threshold":            c.LuxThreshold,
	}
}

// Tick returns the executor period.
func (c SimConfig) Tick() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// LoadOptions reads a YAML or JSON options file. A missing file yields an
// empty layer.
func LoadOptions(path string) (map[string]interface{}, error) {
	if path == "" {
		return map[string]interface{}{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read options: %w", err)
	}

	// JSON is a YAML subset, so one decoder covers both formats.
	m := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse options %s: %w", path, err)
	}
	return m, nil
}

// ParseAssignments turns "key=value" pairs into a layer. Values are decoded
// as YAML scalars or lists, so "entities=[light.a, light.b]" works.
func ParseAssignments(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, raw, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid assignment %q (want key=value)", pair)
		}
		var v interface{}
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		if key == "entities" {
			if s, ok := v.(string); ok {
				v = splitList(s)
			}
		}
		out[key] = v
	}
	return out, nil
}

// Holder guards the live configuration shared by the daemon components.
type Holder struct {
	mu  sync.RWMutex
	cfg SimConfig
}

// NewHolder creates a holder with an initial config.
func NewHolder(cfg SimConfig) *Holder {
	return &Holder{cfg: cfg}
}

// Current returns a copy of the live config.
func (h *Holder) Current() SimConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cfg := h.cfg
	cfg.Entities = append([]string(nil), h.cfg.Entities...)
	return cfg
}

// Set replaces the live config.
func (h *Holder) Set(cfg SimConfig) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

func toStrings(v interface{}) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return cleanList(t), true
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return cleanList(out), true
	case string:
		return splitList(t), true
	}
	return nil, false
}

func splitList(s string) []string {
	return cleanList(strings.Split(s, ","))
}

func cleanList(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

func toClock(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return t.Format("15:04"), true
}
