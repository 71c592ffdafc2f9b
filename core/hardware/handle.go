// Package hardware owns the single robot driver instance. The Handle makes
// the driver lifecycle explicit (ready, unavailable, closed), rejects work
// while no driver is present and serializes all driver calls so that the four
// wheel calls of one command never interleave with another command.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kilianp07/mutorelay/core/logger"
	"github.com/kilianp07/mutorelay/core/model"
	"github.com/kilianp07/mutorelay/core/monitoring"
	"github.com/kilianp07/mutorelay/internal/eventbus"
)

// State is the lifecycle state of a Handle.
type State string

const (
	StateReady       State = "ready"
	StateUnavailable State = "unavailable"
	StateClosed      State = "closed"
)

// Status is a snapshot of the handle state.
type Status struct {
	State  State     `json:"state"`
	Driver string    `json:"driver"`
	Error  string    `json:"error,omitempty"`
	Since  time.Time `json:"since"`
}

// Ready reports whether commands are accepted.
func (s Status) Ready() bool { return s.State == StateReady }

// Handle is the explicitly owned driver resource.
type Handle struct {
	name        string
	open        Opener
	callTimeout time.Duration
	log         logger.Logger
	updates     *eventbus.Bus[Status]
	// current mirrors status for reads that must not wait on mu.
	current atomic.Pointer[Status]

	mu      sync.Mutex
	drv     Driver
	status  Status
	lastErr error

	retryCancel context.CancelFunc
	retryDone   chan struct{}
}

// Option customizes a Handle.
type Option func(*Handle)

// WithCallTimeout bounds each driver call.
func WithCallTimeout(d time.Duration) Option {
	return func(h *Handle) {
		if d > 0 {
			h.callTimeout = d
		}
	}
}

// WithLogger sets the handle logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Handle) {
		if l != nil {
			h.log = l
		}
	}
}

// Open tries to initialize the driver once and always returns a handle. On
// failure the error is logged and the handle starts unavailable.
func Open(ctx context.Context, name string, open Opener, opts ...Option) *Handle {
	h := &Handle{
		name:        name,
		open:        open,
		callTimeout: 2 * time.Second,
		log:         nopLogger{},
		updates:     eventbus.New[Status](),
	}
	for _, o := range opts {
		o(h)
	}
	drv, err := h.tryOpen(ctx)
	h.mu.Lock()
	if err != nil {
		h.log.Errorf("hardware %s initialization failed: %v", name, err)
		monitoring.CaptureException(err, map[string]string{"component": "hardware", "driver": name})
		h.setStatusLocked(StateUnavailable, err)
	} else {
		h.log.Infof("hardware %s initialized", name)
		h.drv = drv
		h.setStatusLocked(StateReady, nil)
	}
	h.mu.Unlock()
	return h
}

func (h *Handle) tryOpen(ctx context.Context) (drv Driver, err error) {
	if h.open == nil {
		return nil, fmt.Errorf("%w: no driver configured", ErrUnavailable)
	}
	defer monitoring.Contain(map[string]string{"component": "hardware", "op": "open"}, func(perr error) {
		drv, err = nil, fmt.Errorf("%w: %v", ErrDriverFault, perr)
	})
	drv, err = h.open(ctx)
	if err == nil && drv == nil {
		err = errors.New("driver opener returned nil")
	}
	return drv, err
}

// Status returns the current status without taking the command lock.
func (h *Handle) Status() Status {
	if st := h.current.Load(); st != nil {
		return *st
	}
	return Status{State: StateUnavailable, Driver: h.name}
}

func (h *Handle) storeStatusLocked() {
	st := h.status
	h.current.Store(&st)
}

// Updates subscribes to status transitions.
func (h *Handle) Updates() <-chan Status { return h.updates.Subscribe() }

// Unsubscribe releases a channel returned by Updates.
func (h *Handle) Unsubscribe(ch <-chan Status) { h.updates.Unsubscribe(ch) }

func (h *Handle) setStatusLocked(st State, err error) {
	h.lastErr = err
	h.status = Status{State: st, Driver: h.name, Since: time.Now().UTC()}
	if err != nil {
		h.status.Error = err.Error()
	}
	h.storeStatusLocked()
	h.updates.Publish(h.status)
}

// availableLocked returns the error to report when commands cannot run.
func (h *Handle) availableLocked() error {
	switch h.status.State {
	case StateReady:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		if h.lastErr != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, h.lastErr)
		}
		return ErrUnavailable
	}
}

// Apply executes the wheel calls in order while holding the handle lock. It
// stops at the first failing call.
func (h *Handle) Apply(ctx context.Context, calls []model.WheelCommand) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.availableLocked(); err != nil {
		return err
	}
	for _, c := range calls {
		if !c.Wheel.Valid() {
			return fmt.Errorf("invalid wheel index %d", int(c.Wheel))
		}
		err := h.call(ctx, func(cctx context.Context) error {
			return h.drv.SetWheel(cctx, c.Wheel, c.Power)
		})
		if err != nil {
			return fmt.Errorf("wheel %s: %w", c.Wheel, err)
		}
	}
	return nil
}

// Beep switches the buzzer.
func (h *Handle) Beep(ctx context.Context, on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.availableLocked(); err != nil {
		return err
	}
	return h.call(ctx, func(cctx context.Context) error {
		return h.drv.Beep(cctx, on)
	})
}

func (h *Handle) call(ctx context.Context, fn func(context.Context) error) (err error) {
	cctx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()
	defer monitoring.Contain(map[string]string{"component": "hardware", "driver": h.name}, func(perr error) {
		err = fmt.Errorf("%w: %v", ErrDriverFault, perr)
	})
	return fn(cctx)
}

// RetryInit keeps trying to open the driver in the background with
// exponential backoff until it succeeds, ctx is done or the handle closes.
// It does nothing when the handle is not unavailable.
func (h *Handle) RetryInit(ctx context.Context, maxInterval time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status.State != StateUnavailable || h.retryCancel != nil {
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	h.retryCancel = cancel
	h.retryDone = make(chan struct{})
	go h.retryLoop(rctx, maxInterval, h.retryDone)
}

func (h *Handle) retryLoop(ctx context.Context, maxInterval time.Duration, done chan struct{}) {
	defer close(done)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	if maxInterval > 0 {
		b.MaxInterval = maxInterval
	}
	b.MaxElapsedTime = 0
	attempt := 0
	op := func() error {
		attempt++
		drv, err := h.tryOpen(ctx)
		if err != nil {
			h.log.Warnf("hardware %s init attempt %d failed: %v", h.name, attempt, err)
			h.mu.Lock()
			h.lastErr = err
			h.status.Error = err.Error()
			h.storeStatusLocked()
			h.mu.Unlock()
			return err
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.status.State != StateUnavailable {
			_ = drv.Close()
			return backoff.Permanent(ErrClosed)
		}
		h.drv = drv
		h.setStatusLocked(StateReady, nil)
		h.log.Infof("hardware %s initialized after %d attempts", h.name, attempt)
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil && !errors.Is(err, ErrClosed) {
		h.log.Debugf("hardware %s retry stopped: %v", h.name, err)
	}
}

// Close stops any retry loop, releases the driver and marks the handle
// closed. Later commands fail with ErrClosed.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.status.State == StateClosed {
		h.mu.Unlock()
		return nil
	}
	cancel, done := h.retryCancel, h.retryDone
	var err error
	if h.drv != nil {
		err = h.drv.Close()
		h.drv = nil
	}
	h.setStatusLocked(StateClosed, nil)
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	h.updates.Close()
	if err != nil {
		return fmt.Errorf("close driver %s: %w", h.name, err)
	}
	return nil
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}
