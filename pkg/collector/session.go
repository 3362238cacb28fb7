package collector

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avihaie/bug-hunter/pkg/defaults"
)

// Session owns the on-disk layout of one run. Every artifact lands under Dir.
type Session struct {
	ID        string
	Dir       string
	TailLines int
	Started   time.Time
}

// NewSession creates a fresh, timestamp-named directory under root (root is
// created if absent). Two sessions never share a directory.
func NewSession(root string, tailLines int, now time.Time) (*Session, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create logs root %s: %w", root, err)
	}

	id := uuid.NewString()
	dir := filepath.Join(root, now.Format(defaults.SessionTimeLayout)+"_"+id[:8])
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	return &Session{
		ID:        id,
		Dir:       dir,
		TailLines: tailLines,
		Started:   now,
	}, nil
}

// HostDir is where a host's full logs and rotations land.
func (s *Session) HostDir(address string) string {
	return filepath.Join(s.Dir, hostDirName(address))
}

// ShortLogsDir is where a host's truncated logs land.
func (s *Session) ShortLogsDir(address string) string {
	return filepath.Join(s.HostDir(address), defaults.ShortLogsDir)
}

// Path returns name joined to the session directory.
func (s *Session) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// EnsureHostDirs creates the host and short-logs directories.
func (s *Session) EnsureHostDirs(address string) (string, string, error) {
	short := s.ShortLogsDir(address)
	if err := os.MkdirAll(short, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create host directory: %w", err)
	}
	return s.HostDir(address), short, nil
}

func hostDirName(address string) string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(address)
}
