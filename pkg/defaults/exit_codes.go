package defaults

// Exit codes for the CLI.
const (
	ExitSuccess       = 0 // Clean exit, all events processed
	ExitUserError     = 2 // Invalid arguments or configuration
	ExitInternalError = 4 // Unexpected internal error
)
