package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogFileComponentName(t *testing.T) {
	tests := []struct {
		name string
		file LogFile
		want string
	}{
		{"explicit component wins", LogFile{Path: "/var/log/ovirt-engine/engine.log", Component: "ovirt-engine-backend"}, "ovirt-engine-backend"},
		{"derived from var log dir", LogFile{Path: "/var/log/ovirt-engine/engine.log"}, "ovirt-engine"},
		{"nested path", LogFile{Path: "/var/log/vdsm/import/import.log"}, "vdsm"},
		{"unclean path", LogFile{Path: "/var/log//vdsm/./vdsm.log"}, "vdsm"},
		{"file directly under var log", LogFile{Path: "/var/log/messages"}, ""},
		{"outside var log", LogFile{Path: "/tmp/my.log"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.file.ComponentName())
		})
	}
}

func TestLogSpecDeduplication(t *testing.T) {
	spec := LogSpec{
		{Path: "/var/log/ovirt-engine/engine.log"},
		{Path: "/var/log/ovirt-engine/server.log"},
		{Path: "/var/log/ovirt-engine/engine.log"},
		{Path: "/var/log/vdsm/vdsm.log"},
		{Path: "/var/log/messages"},
	}

	assert.Equal(t, []string{
		"/var/log/ovirt-engine/engine.log",
		"/var/log/ovirt-engine/server.log",
		"/var/log/vdsm/vdsm.log",
		"/var/log/messages",
	}, spec.Paths())
	assert.Equal(t, []string{"ovirt-engine", "vdsm"}, spec.Components())
	assert.Empty(t, spec.Watched())

	spec[1].Watch = true
	assert.Equal(t, []string{"/var/log/ovirt-engine/server.log"}, spec.Watched())
}

func TestComponentVersion(t *testing.T) {
	v := Installed("h1", "vdsm", "vdsm-4.20.35-1.el7.x86_64")
	assert.True(t, v.IsInstalled())
	assert.Equal(t, "vdsm: vdsm-4.20.35-1.el7.x86_64", v.String())

	missing := NotInstalled("h1", "ovirt-engine")
	assert.False(t, missing.IsInstalled())
	assert.Equal(t, "ovirt-engine: not installed", missing.String())
}

func TestCollectionResultAggregates(t *testing.T) {
	r := CollectionResult{Hosts: []HostResult{
		{Host: "a", LogPaths: []string{"/s/a/engine.log"}, ShortLogPaths: []string{"/s/a/short_logs/engine.log1000"}, Versions: []ComponentVersion{NotInstalled("a", "x")}},
		{Host: "b", Err: errors.New("boom")},
	}}

	assert.Equal(t, []string{"/s/a/engine.log", "/s/a/short_logs/engine.log1000"}, r.LogPaths())
	assert.Len(t, r.Versions(), 1)

	b, ok := r.Host("b")
	assert.True(t, ok)
	assert.Error(t, b.Err)
	_, ok = r.Host("c")
	assert.False(t, ok)
}

func TestHostTarget(t *testing.T) {
	h := HostTarget{Address: "10.0.0.5"}
	assert.Equal(t, "10.0.0.5:22", h.Endpoint())
	assert.Equal(t, "root", h.User())
	assert.False(t, h.IsLocal())

	assert.True(t, HostTarget{Address: LocalAddress}.IsLocal())
	assert.Equal(t, "10.0.0.5:2222", HostTarget{Address: "10.0.0.5", Port: 2222}.Endpoint())
	assert.Equal(t, "[fd00::5]:22", HostTarget{Address: "fd00::5"}.Endpoint())
}
