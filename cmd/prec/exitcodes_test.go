package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/matsen/prec/internal/config"
	"github.com/matsen/prec/internal/paper"
	"github.com/matsen/prec/internal/recommend"
	"github.com/matsen/prec/internal/storage"
	"github.com/matsen/prec/internal/topic"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"paper not found", fmt.Errorf("getting: %w", storage.ErrPaperNotFound), ExitNotFound},
		{"journal not found", storage.ErrJournalNotFound, ExitNotFound},
		{"unavailable", fmt.Errorf("x: %w: boom", storage.ErrStorageUnavailable), ExitUnavailable},
		{"bad topic", topic.ErrInvalidTopicIndex, ExitDataError},
		{"width mismatch", topic.ErrConfigurationMismatch, ExitDataError},
		{"bad limit", recommend.ErrInvalidLimit, ExitDataError},
		{"bad paper", paper.ErrEmptyTitle, ExitDataError},
		{"no repo", config.ErrNotRepository, ExitConfigError},
		{"bad backend", config.ErrInvalidBackend, ExitConfigError},
		{"other", errors.New("boom"), ExitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
