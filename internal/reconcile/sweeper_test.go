package reconcile

import (
	"context"
	"testing"
	"time"

	actiondomain "github.com/smallbiznis/memberledger/internal/actionrequest/domain"
	"github.com/smallbiznis/memberledger/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sweepCall struct {
	olderThan time.Time
	limit     int
}

type actionServiceStub struct {
	actiondomain.Service

	calls   []sweepCall
	results []int
	err     error
}

func (s *actionServiceStub) SweepPending(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	s.calls = append(s.calls, sweepCall{olderThan: olderThan, limit: limit})
	if len(s.results) == 0 {
		return 0, s.err
	}
	result := s.results[0]
	s.results = s.results[1:]
	return result, s.err
}

func newSweeper(t *testing.T, stub *actionServiceStub, fakeClock *clock.FakeClock) *Sweeper {
	t.Helper()
	sweeper, err := New(Params{
		Log:       zap.NewNop(),
		Clock:     fakeClock,
		ActionSvc: stub,
		Config: Config{
			RunInterval:      time.Minute,
			BatchSize:        10,
			PendingThreshold: 5 * time.Minute,
		},
	})
	require.NoError(t, err)
	return sweeper
}

func TestRunOnce_DrainsFullBatches(t *testing.T) {
	fakeClock := clock.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	stub := &actionServiceStub{results: []int{10, 10, 3}}
	sweeper := newSweeper(t, stub, fakeClock)

	require.NoError(t, sweeper.RunOnce(context.Background()))

	// Full batches are drained; the short batch ends the run.
	require.Len(t, stub.calls, 3)
	expected := fakeClock.Now().Add(-5 * time.Minute)
	for _, call := range stub.calls {
		assert.Equal(t, expected, call.olderThan)
		assert.Equal(t, 10, call.limit)
	}
}

func TestRunOnce_EmptySweepStops(t *testing.T) {
	fakeClock := clock.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	stub := &actionServiceStub{}
	sweeper := newSweeper(t, stub, fakeClock)

	require.NoError(t, sweeper.RunOnce(context.Background()))
	assert.Len(t, stub.calls, 1)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
