package defaults

// Exit codes for the CLI.
const (
	ExitSuccess       = 0   // Scan completed, findings or not
	ExitUserError     = 2   // Invalid arguments, configuration or target
	ExitNetworkError  = 3   // Target unreachable or every check failed
	ExitInternalError = 4   // Unexpected internal error
	ExitInterrupted   = 130 // Cancelled by SIGINT or SIGTERM
)
