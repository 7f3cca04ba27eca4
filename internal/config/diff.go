package config

import (
	"maps"
	"reflect"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CorrectionsChanged is true when any transcript cleaner setting changed.
	CorrectionsChanged bool

	// RestartRequired lists changed sections that only take effect after a
	// restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ot, nt := old.Transcript, new.Transcript
	if !maps.Equal(ot.Corrections, nt.Corrections) ||
		ot.UnicodeNormalize != nt.UnicodeNormalize ||
		!reflect.DeepEqual(ot.Phonetic, nt.Phonetic) {
		d.CorrectionsChanged = true
	}

	oldSrv, newSrv := old.Server, new.Server
	oldSrv.LogLevel, newSrv.LogLevel = "", ""
	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldSrv, newSrv},
		{"providers", old.Providers, new.Providers},
		{"store", old.Store, new.Store},
		{"analysis", old.Analysis, new.Analysis},
		{"mcp", old.MCP, new.MCP},
		{"observe", old.Observe, new.Observe},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
