package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds the detection windows and intervals. Every field can be
// overridden from the YAML tuning file; omitted fields keep their defaults.
type Tuning struct {
	StaleAfter         time.Duration `yaml:"stale_after"`
	ActiveWindow       time.Duration `yaml:"active_window"`
	RefreshInterval    time.Duration `yaml:"refresh_interval"`
	FallbackWindow     time.Duration `yaml:"fallback_window"`
	BroadcastWindow    time.Duration `yaml:"broadcast_window"`
	RecheckProbability float64       `yaml:"recheck_probability"`
	ActivityCeiling    time.Duration `yaml:"activity_ceiling"`
	MaxLogEntries      int           `yaml:"max_log_entries"`
}

// DefaultTuning returns the canonical windows.
func DefaultTuning() Tuning {
	return Tuning{
		StaleAfter:         30 * time.Second,
		ActiveWindow:       60 * time.Second,
		RefreshInterval:    5 * time.Second,
		FallbackWindow:     2 * time.Second,
		BroadcastWindow:    3 * time.Second,
		RecheckProbability: 0.25,
		ActivityCeiling:    5 * time.Minute,
		MaxLogEntries:      100,
	}
}

// LoadTuning overlays the YAML file at path onto the defaults. An empty path
// or a missing file yields the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("tuning config: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return DefaultTuning(), fmt.Errorf("tuning config: %w", err)
	}
	if err := t.Validate(); err != nil {
		return DefaultTuning(), err
	}
	return t, nil
}

// Validate rejects windows that would make detection meaningless.
func (t Tuning) Validate() error {
	for name, d := range map[string]time.Duration{
		"stale_after":      t.StaleAfter,
		"active_window":    t.ActiveWindow,
		"refresh_interval": t.RefreshInterval,
		"fallback_window":  t.FallbackWindow,
		"broadcast_window": t.BroadcastWindow,
		"activity_ceiling": t.ActivityCeiling,
	} {
		if d <= 0 {
			return fmt.Errorf("tuning config: %s must be positive", name)
		}
	}
	if t.RefreshInterval >= t.StaleAfter {
		return fmt.Errorf("tuning config: refresh_interval %s must be shorter than stale_after %s", t.RefreshInterval, t.StaleAfter)
	}
	if t.RecheckProbability <= 0 || t.RecheckProbability > 1 {
		return fmt.Errorf("tuning config: recheck_probability %v outside (0,1]", t.RecheckProbability)
	}
	if t.MaxLogEntries < 1 {
		return fmt.Errorf("tuning config: max_log_entries must be at least 1")
	}
	return nil
}
