package config

import (
	"reflect"
	"slices"
)

// Changes describes what differs between two configs.
type Changes struct {
	// Dialogue is set when the dialogue section changed. It applies to
	// sessions started after the reload.
	Dialogue bool

	// LogLevel is set when server.log_level changed. It applies at once.
	LogLevel    bool
	NewLogLevel LogLevel

	// Restart names the sections whose changes need a restart.
	Restart []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return !c.Dialogue && !c.LogLevel && len(c.Restart) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) Changes {
	var c Changes
	if old.Dialogue != new.Dialogue {
		c.Dialogue = true
	}
	if old.Server.LogLevel != new.Server.LogLevel {
		c.LogLevel = true
		c.NewLogLevel = new.Server.LogLevel
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		c.Restart = append(c.Restart, "server")
	}
	if old.Store != new.Store {
		c.Restart = append(c.Restart, "store")
	}
	if old.Blob != new.Blob {
		c.Restart = append(c.Restart, "blob")
	}
	if old.Election.AdminEmail != new.Election.AdminEmail ||
		!slices.Equal(old.Election.Positions, new.Election.Positions) ||
		!slices.Equal(old.Election.ReportCategories, new.Election.ReportCategories) {
		c.Restart = append(c.Restart, "election")
	}
	return c
}
