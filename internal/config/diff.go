package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; transport and
// storage settings require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ClassifierChanged covers the keyword, thresholds, and model path.
	ClassifierChanged bool

	// DebounceChanged covers the K/T debouncer parameters.
	DebounceChanged bool

	// FusionChanged covers the fusion weights and threshold.
	FusionChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.ClassifierChanged || d.DebounceChanged || d.FusionChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.App.LogLevel != new.App.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.App.LogLevel
	}
	if old.Classifier != new.Classifier {
		d.ClassifierChanged = true
	}
	if old.Debounce != new.Debounce {
		d.DebounceChanged = true
	}
	if old.Fusion != new.Fusion {
		d.FusionChanged = true
	}

	return d
}
