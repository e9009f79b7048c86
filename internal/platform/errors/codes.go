// Package errors provides structured error handling for devstack.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Stack definition errors
	CodeStackInvalid         Code = "STACK_INVALID"
	CodeStackServiceUnknown  Code = "STACK_SERVICE_UNKNOWN"
	CodeStackDependencyCycle Code = "STACK_DEPENDENCY_CYCLE"
	CodeProbeInvalid         Code = "PROBE_INVALID"

	// Runtime errors
	CodeRuntimeUnavailable Code = "RUNTIME_UNAVAILABLE"
	CodeVolumeFailed       Code = "VOLUME_FAILED"
	CodeContainerStart     Code = "CONTAINER_START_FAILED"
	CodeContainerStop      Code = "CONTAINER_STOP_FAILED"

	// Bring-up errors
	CodeDependencyUnhealthy Code = "DEPENDENCY_UNHEALTHY"
	CodeBringUpFailed       Code = "BRINGUP_FAILED"

	// Journal errors
	CodeJournalFailed Code = "JOURNAL_FAILED"
)

// Exit codes per error class, surfaced as the process exit status.
const (
	exitUnknown = 1
	exitConfig  = 2
	exitRuntime = 3
	exitBringUp = 4
	exitJournal = 5
)

// ExitStatus maps the code to a process exit status.
func (c Code) ExitStatus() int {
	switch c {
	case CodeStackInvalid, CodeStackServiceUnknown, CodeStackDependencyCycle, CodeProbeInvalid:
		return exitConfig
	case CodeRuntimeUnavailable, CodeVolumeFailed, CodeContainerStart, CodeContainerStop:
		return exitRuntime
	case CodeDependencyUnhealthy, CodeBringUpFailed:
		return exitBringUp
	case CodeJournalFailed:
		return exitJournal
	default:
		return exitUnknown
	}
}
