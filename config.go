package livemigrate

import (
	"strconv"
	"time"

	"github.com/graftwork/livemigrate/pkg/events"
	"github.com/graftwork/livemigrate/pkg/heapwalk"
	"github.com/graftwork/livemigrate/pkg/migerr"
)

// Config holds the engine's recognized options. Loading the backing
// properties/YAML file is left to the caller; FromProperties only applies
// the recognized-options table to a map that's already been decoded.
type Config struct {
	HeapWalkMode         heapwalk.Mode
	TimeoutHeapWalk      time.Duration
	TimeoutHeapSnapshot  time.Duration
	TimeoutCriticalPhase time.Duration
	TimeoutSmokeTest     time.Duration
	HeapSizeMinMiB       int
	HeapSizeMaxMiB       int
	HistorySize          int
	AlertLevel           events.AlertLevel
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		HeapWalkMode: heapwalk.ModeFull,
		HistorySize:  10,
		AlertLevel:   events.LevelWarning,
	}
}

// FromProperties builds a Config from an already-decoded key=value map.
// Unknown keys are ignored; values that fail to parse fall back to the
// default for that key rather than failing the whole load.
func FromProperties(props map[string]string) Config {
	cfg := DefaultConfig()

	if v, ok := props["heap.walk.mode"]; ok {
		cfg.HeapWalkMode = heapwalk.ParseMode(v)
	}
	if v, ok := props["timeout.heap.walk"]; ok {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.TimeoutHeapWalk = time.Duration(secs) * time.Second
		}
	}
	if v, ok := props["timeout.heap.snapshot"]; ok {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.TimeoutHeapSnapshot = time.Duration(secs) * time.Second
		}
	}
	if v, ok := props["timeout.critical.phase"]; ok {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.TimeoutCriticalPhase = time.Duration(secs) * time.Second
		}
	}
	if v, ok := props["timeout.smoke.test"]; ok {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.TimeoutSmokeTest = time.Duration(secs) * time.Second
		}
	}
	if v, ok := props["heap.size.min"]; ok {
		if mib, err := strconv.Atoi(v); err == nil {
			cfg.HeapSizeMinMiB = mib
		}
	}
	if v, ok := props["heap.size.max"]; ok {
		if mib, err := strconv.Atoi(v); err == nil {
			cfg.HeapSizeMaxMiB = mib
		}
	}
	if v, ok := props["history.size"]; ok {
		if size, err := strconv.Atoi(v); err == nil && size > 0 {
			cfg.HistorySize = size
		}
	}
	if v, ok := props["alert.level"]; ok {
		cfg.AlertLevel = events.ParseAlertLevel(v)
	}

	return cfg
}

// Validate reports whether the config is fit to enter Preflight. There is
// no dedicated "config invalid" error kind, so an invalid config surfaces
// the same PlanInvalid kind the Preflight gate uses for a missing plan.
func (c Config) Validate() error {
	if c.HistorySize <= 0 {
		return migerr.New(migerr.PlanInvalid, "history.size must be > 0")
	}
	if c.HeapSizeMinMiB > 0 && c.HeapSizeMaxMiB > 0 && c.HeapSizeMinMiB > c.HeapSizeMaxMiB {
		return migerr.New(migerr.PlanInvalid, "heap.size.min must not exceed heap.size.max")
	}
	return nil
}
