// Package relay applies decoded client messages: chat text is re-broadcast to
// every connected client and motor, drive and beep commands are forwarded to
// the hardware handle.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/mutorelay/core/hardware"
	"github.com/kilianp07/mutorelay/core/journal"
	"github.com/kilianp07/mutorelay/core/logger"
	"github.com/kilianp07/mutorelay/core/metrics"
	"github.com/kilianp07/mutorelay/core/model"
	"github.com/kilianp07/mutorelay/core/monitoring"
	"github.com/kilianp07/mutorelay/core/protocol"
)

var (
	// ErrPowerOutOfRange is returned when a side power exceeds the configured limit.
	ErrPowerOutOfRange = errors.New("power out of range")
	// ErrForbidden is returned when the client may only chat.
	ErrForbidden = errors.New("client may not drive the robot")
)

// Hardware is the part of the hardware handle the relay drives.
type Hardware interface {
	Apply(ctx context.Context, calls []model.WheelCommand) error
	Beep(ctx context.Context, on bool) error
}

// Broadcaster delivers a frame to every connected client and returns the
// number of recipients.
type Broadcaster interface {
	Broadcast(frame []byte) int
}

// Client is the connection a message came from.
type Client interface {
	ID() string
	// Send queues a frame for this client only.
	Send(frame []byte) bool
	// CanDrive is false for observer clients.
	CanDrive() bool
}

// Config tunes command validation.
type Config struct {
	// MaxAbsPower rejects commands whose absolute side power exceeds it.
	// Zero disables the check.
	MaxAbsPower float64 `json:"max_abs_power"`
	// MaxDrivePower is the side power of a full-force joystick reading.
	MaxDrivePower float64 `json:"max_drive_power"`
}

// SetDefaults applies defaults for unset fields.
func (c *Config) SetDefaults() {
	if c.MaxDrivePower <= 0 {
		c.MaxDrivePower = 100
	}
}

// Relay dispatches inbound messages.
type Relay struct {
	hw      Hardware
	bc      Broadcaster
	cfg     Config
	sink    metrics.Sink
	journal journal.Store
	log     logger.Logger
	now     func() time.Time
}

// Option customizes a Relay.
type Option func(*Relay)

// WithConfig sets validation limits.
func WithConfig(cfg Config) Option {
	return func(r *Relay) {
		cfg.SetDefaults()
		r.cfg = cfg
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(s metrics.Sink) Option {
	return func(r *Relay) {
		if s != nil {
			r.sink = s
		}
	}
}

// WithJournal sets the command journal.
func WithJournal(j journal.Store) Option {
	return func(r *Relay) {
		if j != nil {
			r.journal = j
		}
	}
}

// WithLogger sets the relay logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a Relay forwarding commands to hw and chat to bc.
func New(hw Hardware, bc Broadcaster, opts ...Option) *Relay {
	r := &Relay{
		hw:      hw,
		bc:      bc,
		sink:    metrics.NopSink{},
		journal: journal.NopStore{},
		log:     nopLogger{},
		now:     time.Now,
	}
	r.cfg.SetDefaults()
	for _, o := range opts {
		o(r)
	}
	return r
}

// HandleFrame decodes a raw frame and handles it. Any failure is reported to
// the sender as an error event; nothing propagates to the caller so that the
// connection keeps being served.
func (r *Relay) HandleFrame(ctx context.Context, c Client, frame []byte) {
	var event string
	defer monitoring.Contain(map[string]string{"component": "relay"}, func(err error) {
		r.log.Errorf("panic while handling %s from %s: %v", event, c.ID(), err)
		r.reply(c, event, fmt.Errorf("%w: %v", hardware.ErrDriverFault, err))
	})
	in, err := protocol.Decode(frame)
	if err != nil {
		r.log.Warnf("client %s sent an invalid frame: %v", c.ID(), err)
		r.reply(c, "", err)
		return
	}
	event = in.Event()
	if err := r.Handle(ctx, c, in); err != nil {
		r.reply(c, event, err)
	}
}

func (r *Relay) reply(c Client, event string, err error) {
	p := protocol.ErrorPayload{Code: ErrorCode(err), Message: err.Error(), Event: event}
	if !c.Send(protocol.ErrorFrame(p)) {
		r.log.Debugf("dropped error reply to %s", c.ID())
	}
}

// Handle applies one decoded message.
func (r *Relay) Handle(ctx context.Context, c Client, in protocol.Inbound) error {
	switch m := in.(type) {
	case protocol.Chat:
		return r.chat(c, m.Text)
	case protocol.Motor:
		return r.motor(ctx, c, protocol.EventMuto, m.MotorCommand)
	case protocol.Drive:
		return r.motor(ctx, c, protocol.EventDrive, JoystickToMotor(m.DriveCommand, r.cfg.MaxDrivePower))
	case protocol.Beep:
		return r.beep(ctx, c, m.On)
	default:
		return fmt.Errorf("%w: %T", protocol.ErrUnknownEvent, in)
	}
}

func (r *Relay) chat(c Client, text string) error {
	n := r.bc.Broadcast(protocol.ChatFrame(text))
	r.log.Debugw("chat relayed", map[string]any{"client_id": c.ID(), "recipients": n})
	if err := r.sink.RecordChat(metrics.ChatEvent{ClientID: c.ID(), Bytes: len(text), Recipients: n, Time: r.now()}); err != nil {
		r.log.Warnf("metrics error: %v", err)
	}
	return nil
}

func (r *Relay) motor(ctx context.Context, c Client, event string, cmd model.MotorCommand) error {
	calls := cmd.WheelCommands()
	rec := journal.Record{
		CommandID: uuid.NewString(),
		ClientID:  c.ID(),
		Event:     event,
		Calls:     calls[:],
	}
	start := r.now()
	var err error
	if !c.CanDrive() {
		err = ErrForbidden
	} else if r.cfg.MaxAbsPower > 0 && cmd.MaxAbsPower() > r.cfg.MaxAbsPower {
		err = fmt.Errorf("%w: |%g| > %g", ErrPowerOutOfRange, cmd.MaxAbsPower(), r.cfg.MaxAbsPower)
	} else {
		err = r.hw.Apply(ctx, calls[:])
	}
	r.finish(ctx, rec, start, cmd, err)
	return err
}

func (r *Relay) beep(ctx context.Context, c Client, on bool) error {
	rec := journal.Record{
		CommandID: uuid.NewString(),
		ClientID:  c.ID(),
		Event:     protocol.EventBeep,
		Beep:      &on,
	}
	start := r.now()
	err := ErrForbidden
	if c.CanDrive() {
		err = r.hw.Beep(ctx, on)
	}
	r.finish(ctx, rec, start, model.MotorCommand{}, err)
	return err
}

func (r *Relay) finish(ctx context.Context, rec journal.Record, start time.Time, cmd model.MotorCommand, err error) {
	latency := r.now().Sub(start)
	rec.Timestamp = start.UTC()
	rec.LatencyMS = float64(latency.Microseconds()) / 1000
	rec.Outcome = metrics.OutcomeOK
	if err != nil {
		rec.Outcome = ErrorCode(err)
		rec.Error = err.Error()
		if rec.Outcome == protocol.CodeDriverError {
			r.log.Errorf("%s %s from %s failed: %v", rec.Event, rec.CommandID, rec.ClientID, err)
			monitoring.CaptureException(err, map[string]string{"component": "relay", "event": rec.Event})
		} else {
			r.log.Warnf("%s %s from %s rejected: %v", rec.Event, rec.CommandID, rec.ClientID, err)
		}
	} else {
		r.log.Debugw("command applied", map[string]any{
			"command_id": rec.CommandID, "client_id": rec.ClientID, "event": rec.Event,
			"left": cmd.LeftPower, "right": cmd.RightPower,
		})
	}
	if merr := r.sink.RecordCommand(metrics.CommandEvent{
		CommandID:  rec.CommandID,
		ClientID:   rec.ClientID,
		Event:      rec.Event,
		LeftPower:  cmd.LeftPower,
		RightPower: cmd.RightPower,
		Outcome:    rec.Outcome,
		Latency:    latency,
		Time:       rec.Timestamp,
	}); merr != nil {
		r.log.Warnf("metrics error: %v", merr)
	}
	// the journal outlives a canceled request
	if jerr := r.journal.Append(context.WithoutCancel(ctx), rec); jerr != nil {
		r.log.Warnf("journal append failed: %v", jerr)
	}
}

// Stop sends the zero command to every wheel.
func (r *Relay) Stop(ctx context.Context) error {
	calls := model.Stop.WheelCommands()
	return r.hw.Apply(ctx, calls[:])
}

// ErrorCode maps an error to the code sent to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		return protocol.CodeMalformed
	case errors.Is(err, protocol.ErrUnknownEvent):
		return protocol.CodeUnknownEvent
	case errors.Is(err, hardware.ErrUnavailable), errors.Is(err, hardware.ErrClosed):
		return protocol.CodeHardwareUnavailable
	case errors.Is(err, ErrPowerOutOfRange):
		return protocol.CodeOutOfRange
	case errors.Is(err, ErrForbidden):
		return protocol.CodeForbidden
	default:
		return protocol.CodeDriverError
	}
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}
