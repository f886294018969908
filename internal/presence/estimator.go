package presence

import "sort"

// MinSamplesForMedian is how many samples a phase needs before its median is
// trusted over the phase defaults.
const MinSamplesForMedian = 3

// minRuntimeMinutes floors jittered medians.
const minRuntimeMinutes = 3

// EstimateRuntime returns a plausible on-runtime in minutes for phase.
func EstimateRuntime(samples DurationSamples, phase DayPhase, rng Rand) int {
	if bucket := samples[phase]; len(bucket) >= MinSamplesForMedian {
		runtime := median(bucket) + uniform(rng, -5, 5)
		if runtime < minRuntimeMinutes {
			runtime = minRuntimeMinutes
		}
		return runtime
	}

	switch phase {
	case PhaseMorning:
		return uniform(rng, 5, 15)
	case PhaseEvening:
		return uniform(rng, 25, 60)
	default:
		return uniform(rng, 10, 30)
	}
}

// median of an int slice, rounding half up for even lengths.
func median(values []int) int {
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2] + 1) / 2
}
