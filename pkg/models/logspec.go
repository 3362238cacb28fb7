package models

import (
	"path"
	"strings"
)

// LogFile is one log to collect from a host.
type LogFile struct {
	// Absolute path on the remote host
	Path string `yaml:"path" json:"path"`

	// Package that owns the log; derived from the path when empty
	Component string `yaml:"component,omitempty" json:"component,omitempty"`

	// Also fetch rotated siblings (path*), e.g. engine.log-1.gz
	Rotated bool `yaml:"rotated,omitempty" json:"rotated,omitempty"`

	// Follow this log for the fault signature
	Watch bool `yaml:"watch,omitempty" json:"watch,omitempty"`
}

// ComponentName returns the owning package name. An explicit Component wins;
// otherwise the directory directly under /var/log is used
// (/var/log/ovirt-engine/engine.log -> ovirt-engine). Returns "" when
// neither applies.
func (f LogFile) ComponentName() string {
	if f.Component != "" {
		return f.Component
	}
	clean := path.Clean(f.Path)
	rest, ok := strings.CutPrefix(clean, "/var/log/")
	if !ok {
		return ""
	}
	dir, _, found := strings.Cut(rest, "/")
	if !found {
		return ""
	}
	return dir
}

// LogSpec is the ordered set of logs to collect from one host.
type LogSpec []LogFile

// Paths returns the log paths with duplicates removed, in first-seen order.
func (s LogSpec) Paths() []string {
	seen := make(map[string]struct{}, len(s))
	out := make([]string, 0, len(s))
	for _, f := range s {
		p := path.Clean(f.Path)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Components returns the distinct component names, in first-seen order.
// Logs with no derivable component are skipped.
func (s LogSpec) Components() []string {
	seen := make(map[string]struct{}, len(s))
	var out []string
	for _, f := range s {
		name := f.ComponentName()
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Watched returns the paths marked for fault watching.
func (s LogSpec) Watched() []string {
	var out []string
	for _, f := range s {
		if f.Watch {
			out = append(out, path.Clean(f.Path))
		}
	}
	return out
}

// CollectionTarget pairs a host with its logs.
type CollectionTarget struct {
	Host HostTarget
	Logs LogSpec
}
