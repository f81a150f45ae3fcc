package storage

import "filings-advisor/internal/domain"

// ErrNotFound is returned when a requested record does not exist.
// It aliases the domain sentinel so callers can classify with errors.Is
// without importing this package.
var ErrNotFound = domain.ErrNotFound
