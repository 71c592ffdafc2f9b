package hardware

import (
	"context"
	"errors"

	"github.com/kilianp07/mutorelay/core/factory"
	"github.com/kilianp07/mutorelay/core/model"
)

// Driver is the robot board abstraction. Implementations are not required to
// be safe for concurrent use; the Handle serializes every call.
type Driver interface {
	// SetWheel drives one motor at the given power. Sign selects direction.
	SetWheel(ctx context.Context, wheel model.Wheel, power float64) error
	// Beep switches the buzzer.
	Beep(ctx context.Context, on bool) error
	Close() error
}

var (
	// ErrUnavailable is returned while no driver could be initialized.
	ErrUnavailable = errors.New("hardware unavailable")
	// ErrClosed is returned after the handle was released.
	ErrClosed = errors.New("hardware handle closed")
	// ErrDriverFault wraps a panic raised inside a driver call.
	ErrDriverFault = errors.New("driver fault")
)

// Config selects and configures the driver.
type Config struct {
	Driver factory.ModuleConfig `json:"driver"`
	// CallTimeoutMS bounds a single driver call. Zero means 2000.
	CallTimeoutMS int `json:"call_timeout_ms"`
	// RetryInit keeps trying to initialize the driver in the background
	// after a failed startup.
	RetryInit bool `json:"retry_init"`
	// RetryMaxIntervalMS caps the exponential backoff between attempts.
	RetryMaxIntervalMS int `json:"retry_max_interval_ms"`
	// StopOnDisconnect sends a zero command when the last client leaves.
	StopOnDisconnect bool `json:"stop_on_disconnect"`
}

// SetDefaults applies defaults for unset fields.
func (c *Config) SetDefaults() {
	if c.Driver.Type == "" {
		c.Driver.Type = "sim"
	}
	if c.CallTimeoutMS <= 0 {
		c.CallTimeoutMS = 2000
	}
	if c.RetryMaxIntervalMS <= 0 {
		c.RetryMaxIntervalMS = 30000
	}
}

var driverRegistry = factory.NewRegistry[Driver]()

// RegisterDriver adds a driver factory identified by name.
func RegisterDriver(name string, f factory.Factory[Driver]) error {
	return driverRegistry.Register(name, f)
}

// DriverTypes lists the registered driver names.
func DriverTypes() []string { return driverRegistry.Types() }

// NewDriver instantiates the configured driver.
func NewDriver(cfg factory.ModuleConfig) (Driver, error) {
	return driverRegistry.Create(cfg)
}

// Opener initializes a driver. It may fail, in which case the handle stays
// unavailable.
type Opener func(ctx context.Context) (Driver, error)

// RegistryOpener returns an Opener creating cfg through the driver registry.
func RegistryOpener(cfg factory.ModuleConfig) Opener {
	return func(context.Context) (Driver, error) {
		return NewDriver(cfg)
	}
}
