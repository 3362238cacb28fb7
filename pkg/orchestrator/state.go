package orchestrator

// State is a controller state.
type State string

const (
	StateInit             State = "INIT"
	StateEnvSnapshotStart State = "ENV_SNAPSHOT_START"
	StateAwaitFault       State = "AWAIT_FAULT"
	StateCollect          State = "COLLECT"
	StateFork             State = "FORK"
	StateJoin             State = "JOIN"
	StateReport           State = "REPORT"
	StateDone             State = "DONE"
)
