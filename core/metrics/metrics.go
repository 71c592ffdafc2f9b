package metrics

import (
	"time"

	"github.com/kilianp07/mutorelay/core/factory"
)

// OutcomeOK marks a command that reached the driver without error. Rejected
// commands carry the error code sent to the client.
const OutcomeOK = "ok"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
}

// CommandEvent describes one handled motor, drive or beep command.
type CommandEvent struct {
	CommandID  string
	ClientID   string
	Event      string
	LeftPower  float64
	RightPower float64
	Outcome    string
	Latency    time.Duration
	Time       time.Time
}

// ChatEvent describes one relayed chat message.
type ChatEvent struct {
	ClientID   string
	Bytes      int
	Recipients int
	Time       time.Time
}

// StatusEvent is a hardware status transition.
type StatusEvent struct {
	State  string
	Driver string
	Error  string
	Time   time.Time
}

// Sink records relay activity for observability purposes.
type Sink interface {
	RecordCommand(ev CommandEvent) error
	RecordChat(ev ChatEvent) error
	RecordHardwareStatus(ev StatusEvent) error
}

// ClientsRecorder is implemented by sinks tracking connected clients.
type ClientsRecorder interface {
	RecordClients(n int) error
}

// NopSink implements Sink with no-op methods.
type NopSink struct{}

func (NopSink) RecordCommand(CommandEvent) error       { return nil }
func (NopSink) RecordChat(ChatEvent) error             { return nil }
func (NopSink) RecordHardwareStatus(StatusEvent) error { return nil }
func (NopSink) RecordClients(int) error                { return nil }
