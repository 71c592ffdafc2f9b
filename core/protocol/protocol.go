// Package protocol defines the JSON envelopes exchanged over the relay
// WebSocket and decodes inbound frames into a closed set of message types.
//
// Every frame is an object {"event": <name>, "data": <payload>}. Inbound
// events are "message" (chat text), "Muto" (side powers), "beep" and "drive"
// (joystick). Outbound events are "message", "status" and "error".
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kilianp07/mutorelay/core/model"
)

// Event names used on the wire.
const (
	EventMessage = "message"
	EventMuto    = "Muto"
	EventBeep    = "beep"
	EventDrive   = "drive"
	EventStatus  = "status"
	EventError   = "error"
)

var (
	// ErrMalformed is returned when a frame or its payload cannot be decoded.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownEvent is returned for an event tag the relay does not handle.
	ErrUnknownEvent = errors.New("unknown event")
)

// Envelope is the outer JSON object of every frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is a decoded client frame. The set of implementations is closed:
// Chat, Motor, Beep and Drive.
type Inbound interface {
	// Event returns the wire name of the message.
	Event() string
	inbound()
}

// Chat is a free text message to re-broadcast.
type Chat struct{ model.ChatMessage }

// Motor is a "Muto" side-power command.
type Motor struct{ model.MotorCommand }

// Beep switches the buzzer.
type Beep struct{ model.BeepCommand }

// Drive is a joystick reading to be mixed into side powers.
type Drive struct{ model.DriveCommand }

func (Chat) Event() string  { return EventMessage }
func (Motor) Event() string { return EventMuto }
func (Beep) Event() string  { return EventBeep }
func (Drive) Event() string { return EventDrive }

func (Chat) inbound()  {}
func (Motor) inbound() {}
func (Beep) inbound()  {}
func (Drive) inbound() {}

// Decode parses a raw frame into one of the Inbound types.
func Decode(frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Event {
	case EventMessage:
		return decodeChat(env.Data)
	case EventMuto:
		return decodeMotor(env.Data)
	case EventBeep:
		return decodeBeep(env.Data)
	case EventDrive:
		return decodeDrive(env.Data)
	case "":
		return nil, fmt.Errorf("%w: missing event", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func decodeChat(data json.RawMessage) (Inbound, error) {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return nil, fmt.Errorf("%w: message data must be a string", ErrMalformed)
	}
	return Chat{model.ChatMessage{Text: text}}, nil
}

func decodeMotor(data json.RawMessage) (Inbound, error) {
	var p struct {
		LeftPower  *float64 `json:"leftPower"`
		RightPower *float64 `json:"rightPower"`
	}
	if err := strictUnmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.LeftPower == nil {
		return nil, fmt.Errorf("%w: missing leftPower", ErrMalformed)
	}
	if p.RightPower == nil {
		return nil, fmt.Errorf("%w: missing rightPower", ErrMalformed)
	}
	return Motor{model.MotorCommand{LeftPower: *p.LeftPower, RightPower: *p.RightPower}}, nil
}

func decodeBeep(data json.RawMessage) (Inbound, error) {
	if isEmpty(data) {
		return Beep{model.BeepCommand{On: true}}, nil
	}
	// the phone client sends the bare string "beep" on every button press
	var s string
	if json.Unmarshal(data, &s) == nil {
		if s != EventBeep {
			return nil, fmt.Errorf("%w: unexpected beep data %q", ErrMalformed, s)
		}
		return Beep{model.BeepCommand{On: true}}, nil
	}
	var p struct {
		On *bool `json:"on"`
	}
	if err := strictUnmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.On == nil {
		return nil, fmt.Errorf("%w: missing on", ErrMalformed)
	}
	return Beep{model.BeepCommand{On: *p.On}}, nil
}

func decodeDrive(data json.RawMessage) (Inbound, error) {
	var p struct {
		Angle *float64 `json:"angle"`
		Force *float64 `json:"force"`
	}
	if err := strictUnmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Angle == nil || p.Force == nil {
		return nil, fmt.Errorf("%w: drive requires angle and force", ErrMalformed)
	}
	return Drive{model.DriveCommand{Angle: *p.Angle, Force: *p.Force}}, nil
}

func strictUnmarshal(data json.RawMessage, out any) error {
	if isEmpty(data) {
		return fmt.Errorf("%w: missing data", ErrMalformed)
	}
	if trimmed := bytes.TrimSpace(data); trimmed[0] != '{' {
		return fmt.Errorf("%w: data must be an object", ErrMalformed)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func isEmpty(data json.RawMessage) bool {
	t := bytes.TrimSpace(data)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
