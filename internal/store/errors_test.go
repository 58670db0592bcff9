package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		notFound  bool
		duplicate bool
	}{
		{name: "nil error"},
		{name: "generic error", err: errors.New("some error")},
		{name: "ErrNotFound", err: ErrNotFound, notFound: true},
		{name: "wrapped task not found", err: fmt.Errorf("get: %w", ErrTaskNotFound), notFound: true},
		{name: "task exists", err: ErrTaskExists, duplicate: true},
		{
			name:      "store error wrapping duplicate",
			err:       NewStoreError("analysis_task", "create", "insert", ErrTaskExists),
			duplicate: true,
		},
		{name: "not locked", err: ErrTaskNotLocked},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.notFound, IsNotFoundError(tt.err))
			assert.Equal(t, tt.duplicate, IsDuplicateError(tt.err))
		})
	}
}

func TestStoreErrorMessage(t *testing.T) {
	t.Parallel()

	err := NewStoreError("analysis_task", "update", "conditional write", ErrUpdateFailed)
	assert.Equal(t, "update operation on analysis_task failed: conditional write: update failed", err.Error())
	assert.ErrorIs(t, err, ErrUpdateFailed)

	bare := NewStoreError("analysis_task", "list", "bad limit", nil)
	assert.Equal(t, "list operation on analysis_task failed: bad limit", bare.Error())
}
