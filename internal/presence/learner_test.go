package presence

import (
	"math/rand"
	"testing"
	"time"

	"github.com/fentz26/presencesim/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(state string, t time.Time) models.HistoryEvent {
	return models.HistoryEvent{State: state, LastChanged: t.Format(time.RFC3339)}
}

func TestLearn_DurationFilter(t *testing.T) {
	longOn := time.Date(2024, 1, 1, 19, 0, 0, 0, time.UTC)
	shortOn := time.Date(2024, 1, 2, 19, 0, 0, 0, time.UTC)

	events := []models.HistoryEvent{
		ev("on", longOn),
		ev("off", longOn.Add(400*time.Minute)),
		ev("on", shortOn),
		ev("off", shortOn.Add(50*time.Minute)),
	}

	samples := Learn(events, time.UTC)
	assert.Equal(t, []int{50}, samples[PhaseEvening])
	assert.Equal(t, 0, samples.Count(PhaseNight))
	assert.Equal(t, 0, samples.Count(PhaseDay))
}

func TestLearn_PhaseOfOnEvent(t *testing.T) {
	// Starts in the evening, ends after 23:00: sample belongs to evening.
	on := time.Date(2024, 1, 1, 22, 40, 0, 0, time.UTC)
	samples := Learn([]models.HistoryEvent{ev("on", on), ev("off", on.Add(45*time.Minute))}, time.UTC)
	assert.Equal(t, []int{45}, samples[PhaseEvening])
	assert.Empty(t, samples[PhaseNight])
}

func TestLearn_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	// 21:00 UTC is 07:00 at UTC+10.
	on := time.Date(2024, 1, 1, 21, 0, 0, 0, time.UTC)
	samples := Learn([]models.HistoryEvent{ev("on", on), ev("off", on.Add(12*time.Minute))}, loc)
	assert.Equal(t, []int{12}, samples[PhaseMorning])
}

func TestLearn_SkipsNoise(t *testing.T) {
	on := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	events := []models.HistoryEvent{
		{State: "on", LastChanged: "not-a-timestamp"},
		ev("off", on.Add(-time.Minute)), // off with no pending on
		ev("on", on),
		ev("unavailable", on.Add(5*time.Minute)),
		ev("on", on.Add(10*time.Minute)), // repeated on keeps the earliest
		{State: "off", LastChanged: "", LastUpdated: on.Add(20 * time.Minute).Format(time.RFC3339Nano)},
		ev("on", on.Add(60*time.Minute)), // never turned off
	}

	samples := Learn(events, time.UTC)
	assert.Equal(t, []int{20}, samples[PhaseDay])
}

func TestLearn_ZeroMinuteDiscarded(t *testing.T) {
	on := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	samples := Learn([]models.HistoryEvent{ev("on", on), ev("off", on.Add(30*time.Second))}, time.UTC)
	assert.Empty(t, samples[PhaseDay])
}

func TestLearn_HomeAssistantTimestamp(t *testing.T) {
	events := []models.HistoryEvent{
		{State: "on", LastChanged: "2024-01-01T18:00:00.123456+00:00"},
		{State: "off", LastChanged: "2024-01-01T18:30:00.654321+00:00"},
	}
	samples := Learn(events, time.UTC)
	assert.Equal(t, []int{30}, samples[PhaseEvening])
}

func TestLearn_ZonelessTimestampIsLocal(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	events := []models.HistoryEvent{
		{State: "on", LastChanged: "2024-01-01T07:00:00"},
		{State: "off", LastChanged: "2024-01-01T07:25:00.5"},
	}

	samples := Learn(events, loc)
	assert.Equal(t, []int{25}, samples[PhaseMorning])
	assert.Empty(t, samples[PhaseEvening])
	assert.Equal(t, []ClockTime{MustClock("07:00")}, OnTimes(events, loc))
}

func TestOnTimes(t *testing.T) {
	events := []models.HistoryEvent{
		ev("on", time.Date(2024, 1, 1, 19, 5, 0, 0, time.UTC)),
		ev("off", time.Date(2024, 1, 1, 19, 45, 0, 0, time.UTC)),
		{State: "ON", LastChanged: "2024-01-02T21:30:00Z"},
		{State: "on", LastChanged: "garbage"},
	}

	got := OnTimes(events, time.UTC)
	assert.Equal(t, []ClockTime{MustClock("19:05"), MustClock("21:30")}, got)
}

func TestSlotProfile(t *testing.T) {
	events := []models.HistoryEvent{
		ev("on", time.Date(2024, 1, 1, 19, 5, 0, 0, time.UTC)),
		ev("off", time.Date(2024, 1, 1, 19, 10, 0, 0, time.UTC)),
		ev("on", time.Date(2024, 1, 2, 19, 14, 0, 0, time.UTC)),
		ev("off", time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC)),
	}

	profile := SlotProfile(events, time.UTC, 15)
	require.Len(t, profile, 96)
	assert.InDelta(t, 2.0/3.0, profile[19*4], 1e-9)
	assert.Equal(t, 0.0, profile[21*4])
	assert.Equal(t, 0.0, profile[0])
}

func TestEstimateRuntime_MedianBounds(t *testing.T) {
	samples := DurationSamples{PhaseEvening: {14, 10, 12}}
	for seed := int64(0); seed < 300; seed++ {
		rng := rand.New(rand.NewSource(seed))
		got := EstimateRuntime(samples, PhaseEvening, rng)
		require.GreaterOrEqual(t, got, 7, "seed %d", seed)
		require.LessOrEqual(t, got, 17, "seed %d", seed)
	}
}

func TestEstimateRuntime_FloorAtThree(t *testing.T) {
	samples := DurationSamples{PhaseNight: {1, 1, 2}}
	for seed := int64(0); seed < 100; seed++ {
		rng := rand.New(rand.NewSource(seed))
		require.GreaterOrEqual(t, EstimateRuntime(samples, PhaseNight, rng), 3)
	}
}

func TestEstimateRuntime_PhaseDefaults(t *testing.T) {
	sparse := DurationSamples{PhaseMorning: {200, 200}} // below the sample minimum
	ranges := map[DayPhase][2]int{
		PhaseMorning: {5, 15},
		PhaseEvening: {25, 60},
		PhaseDay:     {10, 30},
		PhaseNight:   {10, 30},
	}

	rng := rand.New(rand.NewSource(42))
	for phase, bounds := range ranges {
		for i := 0; i < 200; i++ {
			got := EstimateRuntime(sparse, phase, rng)
			require.GreaterOrEqual(t, got, bounds[0], "phase %s", phase)
			require.LessOrEqual(t, got, bounds[1], "phase %s", phase)
		}
	}
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 12, median([]int{14, 10, 12}))
	assert.Equal(t, 11, median([]int{10, 12}))
	assert.Equal(t, 5, median([]int{5}))
}
