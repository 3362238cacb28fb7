package models

import (
	"net"
	"strconv"
	"time"
)

// LocalAddress selects the local executor instead of SSH.
const LocalAddress = "local"

// HostTarget identifies one remote host and the identity used to act on it.
// It is built from the run configuration and never mutated afterwards.
type HostTarget struct {
	// Host address (IP or hostname), or "local" for the controller host
	Address string `yaml:"address" json:"address"`

	// Port number (default: 22)
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// Username for authentication (default: root)
	Username string `yaml:"username,omitempty" json:"username,omitempty"`

	// Password-based authentication
	Password string `yaml:"password,omitempty" json:"-"`

	// Key-based authentication (path to private key file)
	PrivateKeyPath string `yaml:"private_key_path,omitempty" json:"-"`

	// Passphrase for encrypted private key (if applicable)
	KeyPassphrase string `yaml:"key_passphrase,omitempty" json:"-"`

	// Timeout for connection establishment
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty" json:"-"`
}

// IsLocal reports whether the target is the controller host itself.
func (h HostTarget) IsLocal() bool {
	switch h.Address {
	case LocalAddress, "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Endpoint returns host:port for dialing.
func (h HostTarget) Endpoint() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(h.Address, strconv.Itoa(port))
}

// User returns the login name, defaulting to root.
func (h HostTarget) User() string {
	if h.Username == "" {
		return "root"
	}
	return h.Username
}
