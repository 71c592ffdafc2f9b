package hardware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/mutorelay/core/model"
)

type mockDriver struct{ mock.Mock }

func (m *mockDriver) SetWheel(ctx context.Context, w model.Wheel, p float64) error {
	return m.Called(w, p).Error(0)
}

func (m *mockDriver) Beep(ctx context.Context, on bool) error {
	return m.Called(on).Error(0)
}

func (m *mockDriver) Close() error { return m.Called().Error(0) }

func openWith(d Driver) Opener {
	return func(context.Context) (Driver, error) { return d, nil }
}

func TestOpenReadyAndApplyOrder(t *testing.T) {
	d := &mockDriver{}
	var order []model.Wheel
	d.On("SetWheel", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		order = append(order, args.Get(0).(model.Wheel))
	}).Return(nil)

	h := Open(context.Background(), "mock", openWith(d))
	require.True(t, h.Status().Ready())

	cmds := model.MotorCommand{LeftPower: 80, RightPower: 40}.WheelCommands()
	require.NoError(t, h.Apply(context.Background(), cmds[:]))

	assert.Equal(t, []model.Wheel{model.LeftFront, model.RightFront, model.LeftBack, model.RightBack}, order)
	d.AssertCalled(t, "SetWheel", model.LeftFront, 80.0)
	d.AssertCalled(t, "SetWheel", model.RightFront, 40.0)
	d.AssertCalled(t, "SetWheel", model.LeftBack, 80.0)
	d.AssertCalled(t, "SetWheel", model.RightBack, 40.0)
}

func TestOpenFailureLeavesHandleUnavailable(t *testing.T) {
	h := Open(context.Background(), "broken", func(context.Context) (Driver, error) {
		return nil, errors.New("no board")
	})
	st := h.Status()
	assert.Equal(t, StateUnavailable, st.State)
	assert.Contains(t, st.Error, "no board")

	err := h.Apply(context.Background(), []model.WheelCommand{{Wheel: model.LeftFront, Power: 1}})
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, h.Beep(context.Background(), true), ErrUnavailable)
}

func TestOpenPanicIsContained(t *testing.T) {
	h := Open(context.Background(), "panicky", func(context.Context) (Driver, error) {
		panic("boom")
	})
	assert.Equal(t, StateUnavailable, h.Status().State)
}

func TestApplyStopsAtFirstError(t *testing.T) {
	d := &mockDriver{}
	d.On("SetWheel", model.LeftFront, 1.0).Return(nil)
	d.On("SetWheel", model.RightFront, 2.0).Return(errors.New("bus error"))

	h := Open(context.Background(), "mock", openWith(d))
	cmds := model.MotorCommand{LeftPower: 1, RightPower: 2}.WheelCommands()
	err := h.Apply(context.Background(), cmds[:])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "right_front")
	d.AssertNumberOfCalls(t, "SetWheel", 2)
}

func TestApplyDriverPanicBecomesFault(t *testing.T) {
	d := &mockDriver{}
	d.On("SetWheel", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("driver crashed")
	}).Return(nil)

	h := Open(context.Background(), "mock", openWith(d))
	err := h.Apply(context.Background(), []model.WheelCommand{{Wheel: model.LeftFront, Power: 1}})
	require.ErrorIs(t, err, ErrDriverFault)
	assert.True(t, h.Status().Ready())
}

func TestApplyRejectsInvalidWheel(t *testing.T) {
	d := &mockDriver{}
	h := Open(context.Background(), "mock", openWith(d))
	err := h.Apply(context.Background(), []model.WheelCommand{{Wheel: model.Wheel(7), Power: 1}})
	require.Error(t, err)
	d.AssertNotCalled(t, "SetWheel", mock.Anything, mock.Anything)
}

func TestCallTimeoutPropagates(t *testing.T) {
	h := Open(context.Background(), "slow", openWith(&slowDriver{}), WithCallTimeout(20*time.Millisecond))
	err := h.Apply(context.Background(), []model.WheelCommand{{Wheel: model.LeftFront, Power: 1}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type slowDriver struct{}

func (slowDriver) SetWheel(ctx context.Context, _ model.Wheel, _ float64) error {
	<-ctx.Done()
	return ctx.Err()
}
func (slowDriver) Beep(context.Context, bool) error { return nil }
func (slowDriver) Close() error                     { return nil }

type gateDriver struct {
	entered chan struct{}
	release chan struct{}
}

func (d *gateDriver) SetWheel(context.Context, model.Wheel, float64) error {
	select {
	case d.entered <- struct{}{}:
	default:
	}
	<-d.release
	return nil
}
func (d *gateDriver) Beep(context.Context, bool) error { return nil }
func (d *gateDriver) Close() error                     { return nil }

func TestStatusDoesNotWaitForRunningCommand(t *testing.T) {
	d := &gateDriver{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := Open(context.Background(), "gate", openWith(d), WithCallTimeout(5*time.Second))

	done := make(chan error, 1)
	go func() {
		done <- h.Apply(context.Background(), []model.WheelCommand{{Wheel: model.LeftFront, Power: 1}})
	}()
	<-d.entered

	got := make(chan Status, 1)
	go func() { got <- h.Status() }()
	select {
	case st := <-got:
		assert.Equal(t, StateReady, st.State)
		assert.Equal(t, "gate", st.Driver)
	case <-time.After(time.Second):
		t.Fatal("Status blocked behind Apply")
	}

	close(d.release)
	require.NoError(t, <-done)
}

type traceDriver struct {
	mu    sync.Mutex
	calls []float64
}

func (d *traceDriver) SetWheel(_ context.Context, _ model.Wheel, p float64) error {
	d.mu.Lock()
	d.calls = append(d.calls, p)
	d.mu.Unlock()
	time.Sleep(50 * time.Microsecond)
	return nil
}
func (d *traceDriver) Beep(context.Context, bool) error { return nil }
func (d *traceDriver) Close() error                     { return nil }

func TestConcurrentCommandsDoNotInterleave(t *testing.T) {
	d := &traceDriver{}
	h := Open(context.Background(), "trace", openWith(d))

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(p float64) {
			defer wg.Done()
			cmds := model.MotorCommand{LeftPower: p, RightPower: -p}.WheelCommands()
			assert.NoError(t, h.Apply(context.Background(), cmds[:]))
		}(float64(i))
	}
	wg.Wait()

	require.Len(t, d.calls, 80)
	for i := 0; i < len(d.calls); i += 4 {
		p := d.calls[i]
		assert.Equal(t, []float64{p, -p, p, -p}, d.calls[i:i+4], "command at %d interleaved", i/4)
	}
}

func TestCloseRejectsLaterCommands(t *testing.T) {
	d := &mockDriver{}
	d.On("Close").Return(nil).Once()
	h := Open(context.Background(), "mock", openWith(d))

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Equal(t, StateClosed, h.Status().State)
	require.ErrorIs(t, h.Beep(context.Background(), true), ErrClosed)
	d.AssertExpectations(t)
}

func TestUpdatesPublishTransitions(t *testing.T) {
	d := &mockDriver{}
	d.On("Close").Return(nil)
	h := Open(context.Background(), "mock", openWith(d))
	ch := h.Updates()
	require.NoError(t, h.Close())

	select {
	case st := <-ch:
		assert.Equal(t, StateClosed, st.State)
	case <-time.After(time.Second):
		t.Fatal("no status update")
	}
}

func TestRetryInitRecovers(t *testing.T) {
	d := &mockDriver{}
	d.On("Close").Return(nil)
	var mu sync.Mutex
	attempts := 0
	h := Open(context.Background(), "flaky", func(context.Context) (Driver, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return nil, errors.New("not yet")
		}
		return d, nil
	})
	require.Equal(t, StateUnavailable, h.Status().State)
	ch := h.Updates()
	defer h.Unsubscribe(ch)

	h.RetryInit(context.Background(), 50*time.Millisecond)
	require.Eventually(t, func() bool { return h.Status().Ready() }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, h.Close())
}

func TestRetryInitStopsOnClose(t *testing.T) {
	h := Open(context.Background(), "dead", func(context.Context) (Driver, error) {
		return nil, errors.New("gone")
	})
	h.RetryInit(context.Background(), 20*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, h.Close())
	assert.Equal(t, StateClosed, h.Status().State)
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, "sim", c.Driver.Type)
	assert.Equal(t, 2000, c.CallTimeoutMS)
	assert.Equal(t, 30000, c.RetryMaxIntervalMS)
}
