package main

// Exit codes
const (
	ExitAccepted    = 0 // Every check passed
	ExitRejected    = 1 // A policy rejected the update
	ExitSystemError = 2 // Technical error (git, gpg, configuration)
)

// exitError carries an exit code for a failure that was already reported
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return "commits rejected"
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}
