package main

import "errors"

var (
	ErrAbortedByUser      = errors.New("aborted by user")
	ErrChunkRequired      = errors.New("chunk required")
	ErrDataDirRequired    = errors.New("data dir required")
	ErrDatabaseRequired   = errors.New("db required")
	ErrIdentifierRequired = errors.New("id required")
	ErrOperationRequired  = errors.New("op-id required")
)
