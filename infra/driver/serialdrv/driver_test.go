package serialdrv

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/mutorelay/core/model"
)

type fakePort struct {
	written bytes.Buffer
	replies *bytes.Buffer
	closed  bool
}

func (f *fakePort) Read(p []byte) (int, error) {
	if f.replies == nil || f.replies.Len() == 0 {
		return 0, io.EOF
	}
	return f.replies.Read(p)
}
func (f *fakePort) Write(p []byte) (int, error)        { return f.written.Write(p) }
func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (f *fakePort) ResetInputBuffer() error            { return nil }
func (f *fakePort) Close() error                       { f.closed = true; return nil }

func withFakePort(t *testing.T, fp *fakePort) *string {
	t.Helper()
	var opened string
	prevOpen, prevList := openPort, listPorts
	openPort = func(name string, _ int) (port, error) { opened = name; return fp, nil }
	listPorts = func() ([]string, error) { return []string{"/dev/cu.Bluetooth-Incoming-Port", "/dev/ttyUSB0"}, nil }
	t.Cleanup(func() { openPort, listPorts = prevOpen, prevList })
	return &opened
}

func TestAutoDetectSkipsBluetooth(t *testing.T) {
	fp := &fakePort{}
	opened := withFakePort(t, fp)
	d, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", *opened)
	assert.Equal(t, "/dev/ttyUSB0", d.Port())
}

func TestNoPortFound(t *testing.T) {
	withFakePort(t, &fakePort{})
	listPorts = func() ([]string, error) { return nil, nil }
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrNoPort)
}

func TestOpenError(t *testing.T) {
	withFakePort(t, &fakePort{})
	openPort = func(string, int) (port, error) { return nil, errors.New("busy") }
	_, err := New(Config{Port: "/dev/ttyACM0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/ttyACM0")
}

func TestWheelLines(t *testing.T) {
	fp := &fakePort{}
	withFakePort(t, fp)
	d, err := Factory(map[string]any{"port": "/dev/ttyUSB0"})
	require.NoError(t, err)

	for _, c := range (model.MotorCommand{LeftPower: 80, RightPower: -40.5}).WheelCommands() {
		require.NoError(t, d.SetWheel(context.Background(), c.Wheel, c.Power))
	}
	require.NoError(t, d.Beep(context.Background(), true))
	assert.Equal(t, "M 0 80.00\nM 1 -40.50\nM 2 80.00\nM 3 -40.50\nB 1\n", fp.written.String())
}

func TestAckReplies(t *testing.T) {
	fp := &fakePort{replies: bytes.NewBufferString("OK\nERR stalled\n")}
	withFakePort(t, fp)
	d, err := New(Config{Port: "/dev/ttyUSB0", Ack: true})
	require.NoError(t, err)
	require.NoError(t, d.SetWheel(context.Background(), model.LeftFront, 1))
	err = d.SetWheel(context.Background(), model.LeftFront, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stalled")
	err = d.Beep(context.Background(), false)
	require.Error(t, err)
}

func TestClose(t *testing.T) {
	fp := &fakePort{}
	withFakePort(t, fp)
	d, err := New(Config{Port: "/dev/ttyUSB0"})
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.True(t, fp.closed)
	require.Error(t, d.SetWheel(context.Background(), model.LeftFront, 1))
}

func TestCanceledContext(t *testing.T) {
	fp := &fakePort{}
	withFakePort(t, fp)
	d, err := New(Config{Port: "/dev/ttyUSB0"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, d.SetWheel(ctx, model.LeftFront, 1), context.Canceled)
	assert.Zero(t, fp.written.Len())
}
