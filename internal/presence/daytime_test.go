package presence

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInWindow(t *testing.T) {
	tests := []struct {
		name       string
		t          string
		start, end string
		want       bool
	}{
		{"cross midnight late evening", "23:00", "22:00", "02:00", true},
		{"cross midnight noon", "12:00", "22:00", "02:00", false},
		{"cross midnight after midnight", "01:30", "22:00", "02:00", true},
		{"cross midnight inclusive end", "02:00", "22:00", "02:00", true},
		{"same day inside", "19:00", "18:00", "23:30", true},
		{"same day inclusive start", "18:00", "18:00", "23:30", true},
		{"same day before", "17:59", "18:00", "23:30", false},
		{"same day after", "23:31", "18:00", "23:30", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InWindow(MustClock(tt.t), MustClock(tt.start), MustClock(tt.end))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPhaseOf(t *testing.T) {
	at := func(hour int) time.Time { return time.Date(2024, 1, 1, hour, 30, 0, 0, time.UTC) }

	assert.Equal(t, PhaseNight, PhaseOf(at(4)))
	assert.Equal(t, PhaseMorning, PhaseOf(at(5)))
	assert.Equal(t, PhaseMorning, PhaseOf(at(8)))
	assert.Equal(t, PhaseDay, PhaseOf(at(9)))
	assert.Equal(t, PhaseDay, PhaseOf(at(16)))
	assert.Equal(t, PhaseEvening, PhaseOf(at(17)))
	assert.Equal(t, PhaseEvening, PhaseOf(at(22)))
	assert.Equal(t, PhaseNight, PhaseOf(at(23)))
	assert.Equal(t, PhaseNight, PhaseOf(at(0)))
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("07:45")
	require.NoError(t, err)
	assert.Equal(t, ClockTime(7*60+45), c)
	assert.Equal(t, "07:45", c.String())

	_, err = ParseClock("7pm")
	assert.Error(t, err)
}

func TestNextOccurrence_ForwardOnly(t *testing.T) {
	now := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)

	later := nextOccurrence(MustClock("21:15"), now)
	assert.Equal(t, time.Date(2024, 1, 1, 21, 15, 0, 0, time.UTC), later)

	earlier := nextOccurrence(MustClock("19:00"), now)
	assert.Equal(t, time.Date(2024, 1, 2, 19, 0, 0, 0, time.UTC), earlier)

	same := nextOccurrence(MustClock("20:00"), now)
	assert.Equal(t, now, same)
}

func TestUniform(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		v := uniform(rng, -5, 5)
		require.GreaterOrEqual(t, v, -5)
		require.LessOrEqual(t, v, 5)
	}
	assert.Equal(t, 4, uniform(rng, 4, 4))
}
