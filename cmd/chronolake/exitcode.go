package main

import "errors"

type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string {
	return e.msg
}

func (e *exitCodeError) ExitCode() int {
	return e.code
}

// exitCodeFor maps command errors onto process exit codes: 2 for a
// declined confirmation prompt, the embedded code for exitCodeError,
// and 1 for everything else.
func exitCodeFor(err error) int {
	if errors.Is(err, ErrAbortedByUser) {
		return 2
	}
	var coded *exitCodeError
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return 1
}
