package model

import "math"

// MotorCommand carries the side powers of one "Muto" message.
type MotorCommand struct {
	LeftPower  float64 `json:"leftPower"`
	RightPower float64 `json:"rightPower"`
}

// WheelCommand is a single call to the driver's per-wheel entry point.
type WheelCommand struct {
	Wheel Wheel   `json:"wheel"`
	Power float64 `json:"power"`
}

// WheelCommands expands the command into the four driver calls in index order.
// Both left wheels receive LeftPower and both right wheels RightPower.
func (c MotorCommand) WheelCommands() [WheelCount]WheelCommand {
	var out [WheelCount]WheelCommand
	for i, w := range AllWheels() {
		p := c.RightPower
		if w.IsLeft() {
			p = c.LeftPower
		}
		out[i] = WheelCommand{Wheel: w, Power: p}
	}
	return out
}

// MaxAbsPower returns the largest absolute side power.
func (c MotorCommand) MaxAbsPower() float64 {
	return math.Max(math.Abs(c.LeftPower), math.Abs(c.RightPower))
}

// Stop is the zero command.
var Stop = MotorCommand{}

// BeepCommand switches the buzzer on or off.
type BeepCommand struct {
	On bool `json:"on"`
}

// DriveCommand is a joystick reading: angle in degrees (0 = right, 90 = forward)
// and force in [0,1].
type DriveCommand struct {
	Angle float64 `json:"angle"`
	Force float64 `json:"force"`
}

// ChatMessage is free text relayed to every connected client.
type ChatMessage struct {
	Text string `json:"text"`
}
