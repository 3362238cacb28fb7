package models

import (
	"fmt"

	"k8s.io/utils/ptr"
)

// ComponentVersion is the installed version of one software component.
// A nil Version means the package is not installed.
type ComponentVersion struct {
	Host      string  `json:"host"`
	Component string  `json:"component"`
	Version   *string `json:"version,omitempty"`
}

// Installed returns a version record for an installed package.
func Installed(host, component, version string) ComponentVersion {
	return ComponentVersion{Host: host, Component: component, Version: ptr.To(version)}
}

// NotInstalled returns a version record for a missing package.
func NotInstalled(host, component string) ComponentVersion {
	return ComponentVersion{Host: host, Component: component}
}

// IsInstalled reports whether a version was found.
func (v ComponentVersion) IsInstalled() bool {
	return v.Version != nil
}

func (v ComponentVersion) String() string {
	return fmt.Sprintf("%s: %s", v.Component, ptr.Deref(v.Version, "not installed"))
}

// FileFailure records one file that could not be collected.
type FileFailure struct {
	Path string
	Err  error
}

// HostResult is the outcome of one host's truncate, collect and
// version-resolve sequence. Err is set when the whole sequence failed; in
// that case the host contributes no artifacts.
type HostResult struct {
	Host          string
	Dir           string
	LogPaths      []string
	ShortLogPaths []string
	Versions      []ComponentVersion
	Failures      []FileFailure
	Err           error
}

// CollectionResult aggregates everything gathered during one run.
type CollectionResult struct {
	Hosts        []HostResult
	TimelinePath string
}

// LogPaths returns every collected local path across hosts.
func (r CollectionResult) LogPaths() []string {
	var out []string
	for _, h := range r.Hosts {
		out = append(out, h.LogPaths...)
		out = append(out, h.ShortLogPaths...)
	}
	return out
}

// Versions returns the component versions across hosts.
func (r CollectionResult) Versions() []ComponentVersion {
	var out []ComponentVersion
	for _, h := range r.Hosts {
		out = append(out, h.Versions...)
	}
	return out
}

// Host returns the result for the given address, if any.
func (r CollectionResult) Host(address string) (HostResult, bool) {
	for _, h := range r.Hosts {
		if h.Host == address {
			return h, true
		}
	}
	return HostResult{}, false
}
