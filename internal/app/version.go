// Package app carries build-time version information.
package app

// Version and BuildCommit are overridden at build time via -ldflags.
var (
	Version     = "dev"
	BuildCommit = "unknown"
)
