package defaults

import "time"

// Remote execution timeouts.
const (
	// SSHDialTimeout bounds TCP connect plus SSH handshake.
	SSHDialTimeout = 30 * time.Second

	// CommandTimeout is the default deadline for a single remote command.
	CommandTimeout = 2 * time.Minute

	// TransferTimeout is the default deadline for fetching a single file.
	TransferTimeout = 10 * time.Minute

	// DecompressTimeout is the default deadline for extracting one rotated log.
	DecompressTimeout = 2 * time.Minute
)

// Correlation defaults.
const (
	// AnchorTolerance is the width of the window after the run start in which
	// the first log line must fall to anchor the timeline.
	AnchorTolerance = 5 * time.Minute
)

// HTTP client timeouts for the environment-state service.
const (
	HTTPClientTimeout         = 30 * time.Second
	HTTPConnectTimeout        = 5 * time.Second
	HTTPTLSHandshakeTimeout   = 5 * time.Second
	HTTPResponseHeaderTimeout = 10 * time.Second
)

// Notification timeouts.
const (
	// NotifyTimeout bounds one SMTP submission or broker publish.
	NotifyTimeout = 30 * time.Second
)
