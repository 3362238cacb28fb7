package defaults

// File and directory names inside a collection session.
const (
	ShortLogsDir      = "short_logs"
	ExtractedDir      = "extracted"
	EnvStateBefore    = "env_state_before.txt"
	EnvStateAfter     = "env_state_after.txt"
	TimelineFile      = "events.txt"
	ReportFile        = "bugzilla_report"
	MetricsFile       = "metrics.prom"
	SessionTimeLayout = "020106_15:04:05"
)

// Run configuration defaults.
const (
	TailLines         = 1000
	LogsRoot          = "~/tmp/bug_hunter_logs"
	PackageQuery      = "rpm -q %s"
	CorrelationFamily = "engine"
	EventMarker       = "EVENT_ID:"
	CommandRate       = 10
	EnvStateUser      = "admin@internal"
	SMTPServer        = "smtp.gmail.com:587"
)
