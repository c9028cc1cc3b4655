package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/types"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "episode not found", err: fmt.Errorf("%w: ep-1", chronograph.ErrEpisodeNotFound), want: http.StatusNotFound},
		{name: "validation", err: types.NewValidationError("add_episode", types.ErrEmptyContent), want: http.StatusBadRequest},
		{name: "conflict", err: types.NewConflictError("resolve", errors.New("ambiguous")), want: http.StatusConflict},
		{name: "transient", err: types.NewTransientError("extract", errors.New("timeout")), want: http.StatusServiceUnavailable},
		{name: "fatal", err: fmt.Errorf("ingest: %w", types.NewFatalError("commit", errors.New("down"))), want: http.StatusInternalServerError},
		{name: "unclassified", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
