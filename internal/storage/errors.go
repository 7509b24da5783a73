package storage

import "errors"

// ErrNotFound is returned when a requested download record does not exist.
var ErrNotFound = errors.New("download record not found")
