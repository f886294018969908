package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fentz26/presencesim/internal/config"
	"github.com/fentz26/presencesim/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions(t *testing.T) {
	at := time.Date(2024, 1, 1, 19, 0, 0, 0, time.UTC)
	actions := []models.PlannedAction{
		{Time: at.Add(20 * time.Minute), Entity: "light.a", Action: models.ActionTurnOff},
		{Time: at, Entity: "light.a", Action: models.ActionTurnOn},
		{Time: at.Add(5 * time.Minute), Entity: "light.b", Action: models.ActionTurnOff},
	}

	got := Sessions(actions)
	require.Len(t, got["light.a"], 1)
	a := got["light.a"][0]
	assert.Equal(t, at, *a.On)
	assert.Equal(t, at.Add(20*time.Minute), *a.Off)
	assert.Equal(t, 20, a.Minutes)

	// light.b already fired its turn_on.
	require.Len(t, got["light.b"], 1)
	assert.Nil(t, got["light.b"][0].On)
	assert.NotNil(t, got["light.b"][0].Off)
}

func TestUpcoming(t *testing.T) {
	now := time.Date(2024, 1, 1, 19, 0, 0, 0, time.UTC)
	actions := []models.PlannedAction{
		{Time: now.Add(-2 * time.Minute), Entity: "light.a", Action: models.ActionTurnOn},
		{Time: now.Add(30 * time.Minute), Entity: "light.a", Action: models.ActionTurnOff},
		{Time: now, Entity: "light.b", Action: models.ActionTurnOn},
		{Time: now.Add(10 * time.Minute), Entity: "light.b", Action: models.ActionTurnOff},
	}

	got := Upcoming(actions, now, 2)
	require.Len(t, got, 2)
	assert.Equal(t, now, got[0].Time)
	assert.Equal(t, now.Add(10*time.Minute), got[1].Time)

	assert.Len(t, Upcoming(actions, now, 0), 3)
}

func TestSlotCounts(t *testing.T) {
	times := map[string][]time.Time{
		"light.a": {
			time.Date(2024, 1, 1, 19, 2, 0, 0, time.UTC),
			time.Date(2024, 1, 2, 19, 14, 0, 0, time.UTC),
			time.Date(2024, 1, 2, 23, 59, 0, 0, time.UTC),
		},
	}
	counts := SlotCounts(times, time.UTC, 15)
	require.Len(t, counts["light.a"], 96)
	assert.Equal(t, 2, counts["light.a"][76])
	assert.Equal(t, 1, counts["light.a"][95])
}

type fakeStates struct {
	states map[string]models.EntityState
	err    error
}

func (f *fakeStates) State(ctx context.Context, entityID string) (*models.EntityState, error) {
	if f.err != nil {
		return nil, f.err
	}
	st, ok := f.states[entityID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (f *fakeStates) States(ctx context.Context) ([]models.EntityState, error) {
	var out []models.EntityState
	for _, st := range f.states {
		out = append(out, st)
	}
	return out, f.err
}

func TestIsDark(t *testing.T) {
	sunCfg := config.Defaults()
	sunCfg.DarknessMode = config.DarknessSun

	luxCfg := config.Defaults()
	luxCfg.DarknessMode = config.DarknessLux
	luxCfg.DarknessEntity = "sensor.lux"

	tests := []struct {
		name   string
		cfg    config.SimConfig
		reader *fakeStates
		want   bool
	}{
		{"none always dark", config.Defaults(), &fakeStates{}, true},
		{"sun below horizon", sunCfg, &fakeStates{states: map[string]models.EntityState{
			"sun.sun": {EntityID: "sun.sun", State: "below_horizon"},
		}}, true},
		{"sun above horizon", sunCfg, &fakeStates{states: map[string]models.EntityState{
			"sun.sun": {EntityID: "sun.sun", State: "above_horizon"},
		}}, false},
		{"sun entity missing", sunCfg, &fakeStates{}, true},
		{"sun read error", sunCfg, &fakeStates{err: errors.New("timeout")}, true},
		{"lux dim", luxCfg, &fakeStates{states: map[string]models.EntityState{
			"sensor.lux": {EntityID: "sensor.lux", State: "12.5"},
		}}, true},
		{"lux at threshold", luxCfg, &fakeStates{states: map[string]models.EntityState{
			"sensor.lux": {EntityID: "sensor.lux", State: "30"},
		}}, true},
		{"lux bright", luxCfg, &fakeStates{states: map[string]models.EntityState{
			"sensor.lux": {EntityID: "sensor.lux", State: "450"},
		}}, false},
		{"lux unavailable", luxCfg, &fakeStates{states: map[string]models.EntityState{
			"sensor.lux": {EntityID: "sensor.lux", State: "unavailable"},
		}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := IsDark(context.Background(), tt.reader, tt.cfg)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestIsDark_NilReader(t *testing.T) {
	cfg := config.Defaults()
	cfg.DarknessMode = config.DarknessSun
	dark, _ := IsDark(context.Background(), nil, cfg)
	assert.True(t, dark)
}
