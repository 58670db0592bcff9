package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTicker struct {
	calls    atomic.Int32
	result   DispatchResult
	err      error
	deadline atomic.Bool
}

func (c *countingTicker) Dispatch(ctx context.Context) (DispatchResult, error) {
	c.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		c.deadline.Store(true)
	}
	return c.result, c.err
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	t.Parallel()

	_, err := NewScheduler(&countingTicker{}, "every now and then", discardLogger())
	assert.Error(t, err)
}

func TestScheduler_Tick(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	ticker := &countingTicker{result: DispatchResult{Processing: true, TaskID: &id, Message: "task completed"}}
	s, err := NewScheduler(ticker, "@every 1h", discardLogger(), WithTickTimeout(time.Second))
	require.NoError(t, err)

	res := s.Tick()
	assert.Equal(t, ticker.result, res)
	assert.EqualValues(t, 1, ticker.calls.Load())
	assert.True(t, ticker.deadline.Load(), "ticks run under a deadline")

	ticker.err = errors.New("store unavailable")
	res = s.Tick()
	assert.Equal(t, "task completed", res.Message)
	assert.EqualValues(t, 2, ticker.calls.Load())
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()

	ticker := &countingTicker{result: DispatchResult{Message: MessageNoEligibleTasks}}
	s, err := NewScheduler(ticker, "@every 1s", discardLogger())
	require.NoError(t, err)

	s.Start()
	s.Start()
	assert.Eventually(t, func() bool { return ticker.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx), "stopping twice is a no-op")
}

func TestScheduler_DrivesDispatcher(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, 3)
	task := seedTask(t, f.store, 10)
	s, err := NewScheduler(f.dispatcher, "@every 1h", discardLogger())
	require.NoError(t, err)

	res := s.Tick()
	require.NotNil(t, res.TaskID)
	assert.Equal(t, task.ID, *res.TaskID)
	assert.Equal(t, 1, *f.get(t, task).AnalysisStep)
}
