package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/mutorelay/core/model"
)

func TestRecordsCalls(t *testing.T) {
	d := New()
	ctx := context.Background()
	for _, c := range (model.MotorCommand{LeftPower: 80, RightPower: 40}).WheelCommands() {
		require.NoError(t, d.SetWheel(ctx, c.Wheel, c.Power))
	}
	require.NoError(t, d.Beep(ctx, true))

	assert.Equal(t, [model.WheelCount]float64{80, 40, 80, 40}, d.Powers())
	assert.True(t, d.Beeping())
	assert.Len(t, d.Calls(), 5)
	assert.Equal(t, []model.WheelCommand{
		{Wheel: model.LeftFront, Power: 80},
		{Wheel: model.RightFront, Power: 40},
		{Wheel: model.LeftBack, Power: 80},
		{Wheel: model.RightBack, Power: 40},
	}, d.WheelCalls())

	d.Reset()
	assert.Empty(t, d.Calls())
}

func TestFailWheel(t *testing.T) {
	d := New()
	boom := errors.New("stall")
	d.FailWheel(model.LeftBack, boom)
	require.ErrorIs(t, d.SetWheel(context.Background(), model.LeftBack, 1), boom)
	d.FailWheel(model.LeftBack, nil)
	require.NoError(t, d.SetWheel(context.Background(), model.LeftBack, 1))
}

func TestFactory(t *testing.T) {
	d, err := Factory(map[string]any{"latency": "5ms"})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, d.latency)

	_, err = Factory(map[string]any{"fail_init": true})
	require.Error(t, err)
}

func TestLatencyHonoursContext(t *testing.T) {
	d := New()
	d.latency = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.SetWheel(ctx, model.LeftFront, 1), context.DeadlineExceeded)
	assert.Empty(t, d.Calls())
}

func TestClosed(t *testing.T) {
	d := New()
	require.NoError(t, d.Close())
	assert.True(t, d.Closed())
	require.Error(t, d.Beep(context.Background(), true))
}
