// Package serialdrv drives a motor controller attached to a serial port with a
// line based text protocol:
//
//	M <wheel> <power>\n   set one wheel
//	B <0|1>\n             buzzer off/on
//
// When ack is enabled the controller answers every line with "OK" or
// "ERR <reason>".
package serialdrv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/kilianp07/mutorelay/core/factory"
	"github.com/kilianp07/mutorelay/core/logger"
	"github.com/kilianp07/mutorelay/core/model"
	infralogger "github.com/kilianp07/mutorelay/infra/logger"
)

// ErrNoPort is returned when auto-detection finds no serial port.
var ErrNoPort = errors.New("no serial port found")

// Config for the serial driver.
type Config struct {
	// Port is the device path. Empty selects the first port found.
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate"`
	// Ack makes the driver read one reply line per command.
	Ack           bool `json:"ack"`
	ReadTimeoutMS int  `json:"read_timeout_ms"`
	// Precision is the number of decimals sent for power values.
	Precision int `json:"precision"`
}

type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

var (
	openPort = func(name string, baud int) (port, error) {
		return serial.Open(name, &serial.Mode{BaudRate: baud})
	}
	listPorts = serial.GetPortsList
)

// Driver writes commands to a serial motor controller.
type Driver struct {
	cfg  Config
	name string
	port port
	log  logger.Logger
	mu   sync.Mutex
}

// Factory builds a Driver from a raw module config.
func Factory(conf map[string]any) (*Driver, error) {
	var cfg Config
	if err := factory.Decode(conf, &cfg); err != nil {
		return nil, fmt.Errorf("serial driver config: %w", err)
	}
	return New(cfg)
}

// New opens the serial port.
func New(cfg Config) (*Driver, error) {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ReadTimeoutMS <= 0 {
		cfg.ReadTimeoutMS = 500
	}
	if cfg.Precision <= 0 {
		cfg.Precision = 2
	}
	name := cfg.Port
	if name == "" {
		ports, err := listPorts()
		if err != nil {
			return nil, fmt.Errorf("list serial ports: %w", err)
		}
		for _, p := range ports {
			if strings.Contains(p, "Bluetooth") {
				continue
			}
			name = p
			break
		}
		if name == "" {
			return nil, ErrNoPort
		}
	}
	p, err := openPort(name, cfg.BaudRate)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(time.Duration(cfg.ReadTimeoutMS) * time.Millisecond); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	log := infralogger.New("serial_driver")
	log.Infof("serial port %s opened at %d baud", name, cfg.BaudRate)
	return &Driver{cfg: cfg, name: name, port: p, log: log}, nil
}

// Port returns the device path in use.
func (d *Driver) Port() string { return d.name }

// SetWheel sends one "M" line.
func (d *Driver) SetWheel(ctx context.Context, w model.Wheel, power float64) error {
	line := fmt.Sprintf("M %d %s\n", int(w), strconv.FormatFloat(power, 'f', d.cfg.Precision, 64))
	return d.exchange(ctx, line)
}

// Beep sends one "B" line.
func (d *Driver) Beep(ctx context.Context, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return d.exchange(ctx, fmt.Sprintf("B %d\n", v))
}

func (d *Driver) exchange(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return errors.New("serial port closed")
	}
	if d.cfg.Ack {
		_ = d.port.ResetInputBuffer()
	}
	if _, err := d.port.Write([]byte(line)); err != nil {
		return fmt.Errorf("write %s: %w", d.name, err)
	}
	if !d.cfg.Ack {
		return nil
	}
	reply, err := d.readLine()
	if err != nil && reply == "" {
		return fmt.Errorf("read reply from %s: %w", d.name, err)
	}
	switch {
	case reply == "OK":
		return nil
	case reply == "":
		return fmt.Errorf("no reply from %s", d.name)
	case strings.HasPrefix(reply, "ERR"):
		return fmt.Errorf("controller error: %s", strings.TrimSpace(strings.TrimPrefix(reply, "ERR")))
	default:
		return fmt.Errorf("unexpected reply %q", reply)
	}
}

// readLine reads up to a newline one byte at a time so that nothing past the
// reply is consumed. A read returning no data means the timeout expired.
func (d *Driver) readLine() (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for sb.Len() < 256 {
		n, err := d.port.Read(buf)
		if n == 0 || err != nil {
			return strings.TrimSpace(sb.String()), err
		}
		if buf[0] == '\n' {
			break
		}
		sb.WriteByte(buf[0])
	}
	return strings.TrimSpace(sb.String()), nil
}

// Close releases the serial port.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}
