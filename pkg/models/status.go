package models

// Ticket statuses used throughout the codebase.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusError      = "error"
)

// Ticket types. Implementation tickets run implement -> lint -> review;
// e2e-test tickets run through the bounded test retry loop.
const (
	TypeImplementation = "implementation"
	TypeE2ETest        = "e2e-test"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultSSEChannelBuffer    = 256
	DefaultTicketListLimit     = 1000
)

// ValidStatus reports whether s is a known ticket status.
func ValidStatus(s string) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone, StatusError:
		return true
	}
	return false
}
