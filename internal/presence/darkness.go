package presence

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fentz26/presencesim/internal/config"
	"github.com/fentz26/presencesim/internal/connectors"
)

// IsDark reports whether turn_on actions may fire under the configured
// darkness mode, with a short reason. Missing or unreadable sensors allow.
func IsDark(ctx context.Context, reader connectors.StateReader, cfg config.SimConfig) (bool, string) {
	mode := strings.ToLower(cfg.DarknessMode)
	if mode == "" || mode == config.DarknessNone {
		return true, "darkness_mode=none"
	}
	if reader == nil {
		return true, "no state reader (allowing)"
	}

	st, err := reader.State(ctx, cfg.DarknessEntity)
	if err != nil {
		return true, fmt.Sprintf("darkness entity unreadable (allowing): %v", err)
	}
	if st == nil {
		return true, "darkness entity not found (allowing)"
	}

	switch mode {
	case config.DarknessSun:
		return st.State == cfg.DarkState, fmt.Sprintf("sun state=%s", st.State)
	case config.DarknessLux:
		lux, err := strconv.ParseFloat(strings.TrimSpace(st.State), 64)
		if err != nil {
			return true, "lux unreadable (allowing)"
		}
		return lux <= float64(cfg.LuxThreshold), fmt.Sprintf("lux=%g threshold=%d", lux, cfg.LuxThreshold)
	}
	return true, "unknown darkness mode (allowing)"
}
