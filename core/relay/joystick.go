package relay

import (
	"math"

	"github.com/kilianp07/mutorelay/core/model"
)

// JoystickToMotor mixes a joystick reading into side powers. Angle is in
// degrees with 90 pointing forward; force is clipped to [0,1]. The result is
// scaled so that a full forward push gives maxPower on both sides and no side
// ever exceeds maxPower.
func JoystickToMotor(d model.DriveCommand, maxPower float64) model.MotorCommand {
	force := math.Max(0, math.Min(1, d.Force))
	if math.IsNaN(force) || math.IsNaN(d.Angle) || math.IsInf(d.Angle, 0) || force == 0 {
		return model.Stop
	}
	rad := d.Angle * math.Pi / 180
	y := force * math.Sin(rad)
	x := force * math.Cos(rad)
	left, right := y+x, y-x
	if m := math.Max(math.Abs(left), math.Abs(right)); m > 1 {
		left /= m
		right /= m
	}
	return model.MotorCommand{
		LeftPower:  round3(left * maxPower),
		RightPower: round3(right * maxPower),
	}
}

func round3(f float64) float64 {
	r := math.Round(f*1000) / 1000
	if r == 0 {
		return 0
	}
	return r
}
