package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/resonance/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTicker struct {
	result   task.DispatchResult
	err      error
	deadline bool
}

func (s *stubTicker) Dispatch(ctx context.Context) (task.DispatchResult, error) {
	_, s.deadline = ctx.Deadline()
	return s.result, s.err
}

func TestTick(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("0f7c3a52-8d1e-4b6a-9c2f-5e4d3b2a1c0f")

	tests := []struct {
		name    string
		ticker  *stubTicker
		want    string
		wantErr bool
	}{
		{
			name:   "idle",
			ticker: &stubTicker{result: task.DispatchResult{Message: task.MessageNoEligibleTasks}},
			want:   `{"processing":false,"taskId":null,"message":"no eligible tasks"}`,
		},
		{
			name: "interrupted unit still prints",
			ticker: &stubTicker{
				result: task.DispatchResult{Processing: true, TaskID: &id, Message: "unit interrupted"},
				err:    context.DeadlineExceeded,
			},
			want: `{"processing":true,"taskId":"0f7c3a52-8d1e-4b6a-9c2f-5e4d3b2a1c0f","message":"unit interrupted"}`,
		},
		{
			name:    "store failure",
			ticker:  &stubTicker{err: errors.New("connection refused")},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			err := tick(context.Background(), tc.ticker, time.Minute, &out)
			assert.True(t, tc.ticker.deadline)
			if tc.wantErr {
				require.Error(t, err)
				assert.Empty(t, out.String())
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, out.String())
		})
	}
}
