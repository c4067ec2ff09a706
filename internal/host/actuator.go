package host

import (
	"log/slog"
	"time"

	"touchbridge/internal/platform"
)

// LogActuator stands in for a vibrator by logging each pattern.
type LogActuator struct {
	logger *slog.Logger
}

var _ platform.Actuator = (*LogActuator)(nil)

// NewLogActuator creates an actuator that logs to logger.
func NewLogActuator(logger *slog.Logger) *LogActuator {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogActuator{logger: logger}
}

// Vibrate implements platform.Actuator.
func (a *LogActuator) Vibrate(pattern []time.Duration) error {
	var total time.Duration
	for _, d := range pattern {
		total += d
	}
	a.logger.Info("vibrate", "segments", len(pattern), "duration", total)
	return nil
}
