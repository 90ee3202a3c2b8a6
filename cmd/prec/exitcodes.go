package main

import (
	"errors"

	"github.com/matsen/prec/internal/config"
	"github.com/matsen/prec/internal/paper"
	"github.com/matsen/prec/internal/recommend"
	"github.com/matsen/prec/internal/storage"
)

// Exit codes
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError = 2 // Configuration error (no repository, invalid config)
	ExitDataError   = 3 // Data error (bad topic index, width mismatch, malformed input)
	ExitNotFound    = 4 // Paper or journal not found
	ExitUnavailable = 5 // Storage unavailable; safe to retry
)

// exitCodeFor maps an error to the exit code for its class.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, storage.ErrPaperNotFound), errors.Is(err, storage.ErrJournalNotFound):
		return ExitNotFound
	case errors.Is(err, storage.ErrStorageUnavailable):
		return ExitUnavailable
	case recommend.IsInvalidInput(err),
		errors.Is(err, paper.ErrInvalidID),
		errors.Is(err, paper.ErrInvalidJournalID),
		errors.Is(err, paper.ErrEmptyTitle),
		errors.Is(err, paper.ErrEmptyName):
		return ExitDataError
	case errors.Is(err, config.ErrNotRepository),
		errors.Is(err, config.ErrInvalidTopics),
		errors.Is(err, config.ErrInvalidBackend),
		errors.Is(err, config.ErrInvalidServer):
		return ExitConfigError
	default:
		return ExitError
	}
}
