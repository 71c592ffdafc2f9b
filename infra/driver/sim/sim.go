// Package sim provides an in-memory driver that records every call. It is the
// default driver when no robot board is attached and the test double used
// across the relay packages.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/mutorelay/core/factory"
	"github.com/kilianp07/mutorelay/core/model"
)

// Call is one recorded driver invocation.
type Call struct {
	Op    string      `json:"op"`
	Wheel model.Wheel `json:"wheel"`
	Power float64     `json:"power"`
	On    bool        `json:"on"`
}

// Config for the simulated driver.
type Config struct {
	// Latency is added to every call.
	Latency time.Duration `json:"latency"`
	// FailInit makes the factory fail, emulating an absent board.
	FailInit bool `json:"fail_init"`
}

// Driver keeps the last power of each wheel and the call history.
type Driver struct {
	mu      sync.Mutex
	latency time.Duration
	powers  [model.WheelCount]float64
	beeping bool
	calls   []Call
	failOn  map[model.Wheel]error
	closed  bool
}

// New returns a ready simulated driver.
func New() *Driver {
	return &Driver{failOn: make(map[model.Wheel]error)}
}

// Factory builds a Driver from a raw module config.
func Factory(conf map[string]any) (*Driver, error) {
	var cfg Config
	if err := factory.Decode(conf, &cfg); err != nil {
		return nil, fmt.Errorf("sim driver config: %w", err)
	}
	if cfg.FailInit {
		return nil, errors.New("simulated board not present")
	}
	d := New()
	d.latency = cfg.Latency
	return d, nil
}

// FailWheel makes calls for w return err. A nil err clears the failure.
func (d *Driver) FailWheel(w model.Wheel, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failOn, w)
		return
	}
	d.failOn[w] = err
}

func (d *Driver) wait(ctx context.Context) error {
	if d.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetWheel records the call and stores the power.
func (d *Driver) SetWheel(ctx context.Context, w model.Wheel, power float64) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("sim driver closed")
	}
	if err := d.failOn[w]; err != nil {
		return err
	}
	d.calls = append(d.calls, Call{Op: "wheel", Wheel: w, Power: power})
	d.powers[w] = power
	return nil
}

// Beep records the buzzer state.
func (d *Driver) Beep(ctx context.Context, on bool) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("sim driver closed")
	}
	d.calls = append(d.calls, Call{Op: "beep", On: on})
	d.beeping = on
	return nil
}

// Calls returns a copy of the call history.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// WheelCalls returns the wheel calls only.
func (d *Driver) WheelCalls() []model.WheelCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.WheelCommand
	for _, c := range d.calls {
		if c.Op == "wheel" {
			out = append(out, model.WheelCommand{Wheel: c.Wheel, Power: c.Power})
		}
	}
	return out
}

// Powers returns the current power of each wheel.
func (d *Driver) Powers() [model.WheelCount]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.powers
}

// Beeping reports the buzzer state.
func (d *Driver) Beeping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.beeping
}

// Reset clears the call history.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// Close marks the driver closed.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
