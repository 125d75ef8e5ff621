package config

import (
	"reflect"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart and is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PolicyDefaultsChanged is true when policy.defaults differ.
	PolicyDefaultsChanged bool

	// RestartRequired names the top-level sections that changed but are
	// only read at startup.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PolicyDefaultsChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !reflect.DeepEqual(old.Policy.Defaults, new.Policy.Defaults) {
		d.PolicyDefaultsChanged = true
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldPolicy, newPolicy := old.Policy, new.Policy
	oldPolicy.Defaults = newPolicy.Defaults

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"discord", old.Discord, new.Discord},
		{"providers", old.Providers, new.Providers},
		{"calls", old.Calls, new.Calls},
		{"policy", oldPolicy, newPolicy},
		{"timeouts", old.Timeouts, new.Timeouts},
		{"observability", old.Observability, new.Observability},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
