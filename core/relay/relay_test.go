package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/mutorelay/core/hardware"
	"github.com/kilianp07/mutorelay/core/journal"
	"github.com/kilianp07/mutorelay/core/metrics"
	"github.com/kilianp07/mutorelay/core/model"
	"github.com/kilianp07/mutorelay/core/protocol"
	"github.com/kilianp07/mutorelay/infra/driver/sim"
)

type fakeClient struct {
	id       string
	observer bool
	mu       sync.Mutex
	frames   [][]byte
}

func (c *fakeClient) ID() string     { return c.id }
func (c *fakeClient) CanDrive() bool { return !c.observer }
func (c *fakeClient) Send(f []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return true
}

func (c *fakeClient) errors(t *testing.T) []protocol.ErrorPayload {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.ErrorPayload
	for _, f := range c.frames {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		require.Equal(t, protocol.EventError, env.Event)
		var p protocol.ErrorPayload
		require.NoError(t, json.Unmarshal(env.Data, &p))
		out = append(out, p)
	}
	return out
}

type fakeHub struct {
	mu     sync.Mutex
	frames [][]byte
	n      int
}

func (h *fakeHub) Broadcast(f []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, f)
	return h.n
}

type memJournal struct {
	journal.NopStore
	mu   sync.Mutex
	recs []journal.Record
}

func (m *memJournal) Append(_ context.Context, r journal.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

type countSink struct {
	metrics.NopSink
	mu       sync.Mutex
	commands []metrics.CommandEvent
	chats    []metrics.ChatEvent
}

func (s *countSink) RecordCommand(ev metrics.CommandEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, ev)
	return nil
}

func (s *countSink) RecordChat(ev metrics.ChatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append(s.chats, ev)
	return nil
}

func readyHandle(t *testing.T) (*hardware.Handle, *sim.Driver) {
	t.Helper()
	d := sim.New()
	h := hardware.Open(context.Background(), "sim", func(context.Context) (hardware.Driver, error) { return d, nil })
	t.Cleanup(func() { _ = h.Close() })
	return h, d
}

func TestMotorFrameReachesDriverInOrder(t *testing.T) {
	h, d := readyHandle(t)
	j := &memJournal{}
	sink := &countSink{}
	r := New(h, &fakeHub{}, WithJournal(j), WithMetrics(sink))
	c := &fakeClient{id: "a"}

	r.HandleFrame(context.Background(), c, []byte(`{"event":"Muto","data":{"leftPower":80,"rightPower":40}}`))

	assert.Equal(t, []model.WheelCommand{
		{Wheel: 0, Power: 80}, {Wheel: 1, Power: 40}, {Wheel: 2, Power: 80}, {Wheel: 3, Power: 40},
	}, d.WheelCalls())
	assert.Empty(t, c.frames, "no acknowledgment on success")

	require.Len(t, j.recs, 1)
	assert.Equal(t, metrics.OutcomeOK, j.recs[0].Outcome)
	assert.Equal(t, "a", j.recs[0].ClientID)
	assert.NotEmpty(t, j.recs[0].CommandID)
	require.Len(t, sink.commands, 1)
	assert.Equal(t, 80.0, sink.commands[0].LeftPower)
}

func TestChatBroadcastVerbatim(t *testing.T) {
	h, d := readyHandle(t)
	hub := &fakeHub{n: 2}
	sink := &countSink{}
	r := New(h, hub, WithMetrics(sink))
	c := &fakeClient{id: "a"}

	r.HandleFrame(context.Background(), c, []byte(`{"event":"message","data":"hello \"robot\""}`))

	require.Len(t, hub.frames, 1)
	assert.JSONEq(t, `{"event":"message","data":"hello \"robot\""}`, string(hub.frames[0]))
	assert.Empty(t, d.Calls())
	require.Len(t, sink.chats, 1)
	assert.Equal(t, 2, sink.chats[0].Recipients)
}

func TestUnavailableHardwareRejects(t *testing.T) {
	h := hardware.Open(context.Background(), "none", func(context.Context) (hardware.Driver, error) {
		return nil, errors.New("board missing")
	})
	j := &memJournal{}
	r := New(h, &fakeHub{}, WithJournal(j))
	c := &fakeClient{id: "a"}

	r.HandleFrame(context.Background(), c, []byte(`{"event":"Muto","data":{"leftPower":1,"rightPower":1}}`))

	errs := c.errors(t)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.CodeHardwareUnavailable, errs[0].Code)
	assert.Equal(t, protocol.EventMuto, errs[0].Event)
	require.Len(t, j.recs, 1)
	assert.Equal(t, protocol.CodeHardwareUnavailable, j.recs[0].Outcome)
}

func TestMalformedFramesNeverReachDriver(t *testing.T) {
	h, d := readyHandle(t)
	r := New(h, &fakeHub{})
	c := &fakeClient{id: "a"}

	frames := []string{
		`not json`,
		`{"event":"Muto","data":{"leftPower":10}}`,
		`{"event":"Muto","data":{"leftPower":"fast","rightPower":1}}`,
		`{"event":"dance","data":{}}`,
	}
	for _, f := range frames {
		r.HandleFrame(context.Background(), c, []byte(f))
	}
	assert.Empty(t, d.Calls())
	errs := c.errors(t)
	require.Len(t, errs, 4)
	assert.Equal(t, protocol.CodeMalformed, errs[0].Code)
	assert.Equal(t, protocol.CodeMalformed, errs[1].Code)
	assert.Equal(t, protocol.CodeMalformed, errs[2].Code)
	assert.Equal(t, protocol.CodeUnknownEvent, errs[3].Code)
}

func TestDriverErrorReportedAndNextCommandWorks(t *testing.T) {
	h, d := readyHandle(t)
	r := New(h, &fakeHub{})
	c := &fakeClient{id: "a"}

	d.FailWheel(model.RightFront, errors.New("stall"))
	r.HandleFrame(context.Background(), c, []byte(`{"event":"Muto","data":{"leftPower":10,"rightPower":10}}`))
	errs := c.errors(t)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.CodeDriverError, errs[0].Code)
	assert.Contains(t, errs[0].Message, "stall")

	d.FailWheel(model.RightFront, nil)
	d.Reset()
	r.HandleFrame(context.Background(), c, []byte(`{"event":"Muto","data":{"leftPower":5,"rightPower":6}}`))
	assert.Len(t, d.WheelCalls(), 4)
}

func TestMaxAbsPowerRejects(t *testing.T) {
	h, d := readyHandle(t)
	r := New(h, &fakeHub{}, WithConfig(Config{MaxAbsPower: 100}))
	c := &fakeClient{id: "a"}

	r.HandleFrame(context.Background(), c, []byte(`{"event":"Muto","data":{"leftPower":-150,"rightPower":40}}`))
	assert.Empty(t, d.Calls())
	errs := c.errors(t)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.CodeOutOfRange, errs[0].Code)

	r.HandleFrame(context.Background(), c, []byte(`{"event":"Muto","data":{"leftPower":-100,"rightPower":40}}`))
	assert.Len(t, d.WheelCalls(), 4)
}

func TestNoClampingByDefault(t *testing.T) {
	h, d := readyHandle(t)
	r := New(h, &fakeHub{})
	require.NoError(t, r.Handle(context.Background(), &fakeClient{id: "a"}, protocol.Motor{MotorCommand: model.MotorCommand{LeftPower: 1e6, RightPower: -1e6}}))
	assert.Equal(t, [model.WheelCount]float64{1e6, -1e6, 1e6, -1e6}, d.Powers())
}

func TestBeepAndDrive(t *testing.T) {
	h, d := readyHandle(t)
	r := New(h, &fakeHub{})
	c := &fakeClient{id: "a"}

	r.HandleFrame(context.Background(), c, []byte(`{"event":"beep","data":{"on":true}}`))
	assert.True(t, d.Beeping())

	r.HandleFrame(context.Background(), c, []byte(`{"event":"drive","data":{"angle":90,"force":0.5}}`))
	assert.Equal(t, [model.WheelCount]float64{50, 50, 50, 50}, d.Powers())
	assert.Empty(t, c.frames)
}

type panicHardware struct{}

func (panicHardware) Apply(context.Context, []model.WheelCommand) error { panic("wild pointer") }
func (panicHardware) Beep(context.Context, bool) error                  { return nil }

func TestPanicContainedPerMessage(t *testing.T) {
	r := New(panicHardware{}, &fakeHub{})
	c := &fakeClient{id: "a"}
	assert.NotPanics(t, func() {
		r.HandleFrame(context.Background(), c, []byte(`{"event":"Muto","data":{"leftPower":1,"rightPower":1}}`))
	})
	errs := c.errors(t)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.CodeDriverError, errs[0].Code)
}

func TestConcurrentClientsDoNotInterleave(t *testing.T) {
	h, d := readyHandle(t)
	r := New(h, &fakeHub{})

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string, p float64) {
			defer wg.Done()
			c := &fakeClient{id: id}
			for i := 0; i < 50; i++ {
				require.NoError(t, r.Handle(context.Background(), c, protocol.Motor{MotorCommand: model.MotorCommand{LeftPower: p, RightPower: -p}}))
			}
		}(id, map[string]float64{"a": 1, "b": 2}[id])
	}
	wg.Wait()

	calls := d.WheelCalls()
	require.Len(t, calls, 400)
	for i := 0; i < len(calls); i += 4 {
		p := calls[i].Power
		for k := 0; k < 4; k++ {
			assert.Equal(t, model.Wheel(k), calls[i+k].Wheel)
		}
		assert.Equal(t, []float64{p, -p, p, -p}, []float64{calls[i].Power, calls[i+1].Power, calls[i+2].Power, calls[i+3].Power})
	}
}

func TestObserverMayOnlyChat(t *testing.T) {
	h, d := readyHandle(t)
	hub := &fakeHub{}
	r := New(h, hub)
	c := &fakeClient{id: "screen", observer: true}

	r.HandleFrame(context.Background(), c, []byte(`{"event":"Muto","data":{"leftPower":1,"rightPower":1}}`))
	r.HandleFrame(context.Background(), c, []byte(`{"event":"beep"}`))
	r.HandleFrame(context.Background(), c, []byte(`{"event":"message","data":"hi"}`))

	assert.Empty(t, d.Calls())
	assert.Len(t, hub.frames, 1)
	errs := c.errors(t)
	require.Len(t, errs, 2)
	assert.Equal(t, protocol.CodeForbidden, errs[0].Code)
	assert.Equal(t, protocol.CodeForbidden, errs[1].Code)
}

func TestErrorCode(t *testing.T) {
	cases := map[string]error{
		protocol.CodeMalformed:           protocol.ErrMalformed,
		protocol.CodeUnknownEvent:        protocol.ErrUnknownEvent,
		protocol.CodeHardwareUnavailable: hardware.ErrClosed,
		protocol.CodeOutOfRange:          ErrPowerOutOfRange,
		protocol.CodeDriverError:         errors.New("i2c nack"),
	}
	for code, err := range cases {
		assert.Equal(t, code, ErrorCode(err))
	}
	assert.Equal(t, protocol.CodeHardwareUnavailable, ErrorCode(hardware.ErrUnavailable))
}

func TestStop(t *testing.T) {
	h, d := readyHandle(t)
	r := New(h, &fakeHub{})
	require.NoError(t, r.Handle(context.Background(), &fakeClient{id: "a"}, protocol.Motor{MotorCommand: model.MotorCommand{LeftPower: 3, RightPower: 3}}))
	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, [model.WheelCount]float64{}, d.Powers())
}
