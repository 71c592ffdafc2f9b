package relay

import (
	"context"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/mutorelay/core/model"
	"github.com/kilianp07/mutorelay/core/protocol"
)

func TestJoystickToMotor(t *testing.T) {
	cases := []struct {
		name string
		in   model.DriveCommand
		want model.MotorCommand
	}{
		{"forward", model.DriveCommand{Angle: 90, Force: 1}, model.MotorCommand{LeftPower: 100, RightPower: 100}},
		{"backward half", model.DriveCommand{Angle: 270, Force: 0.5}, model.MotorCommand{LeftPower: -50, RightPower: -50}},
		{"spin right", model.DriveCommand{Angle: 0, Force: 1}, model.MotorCommand{LeftPower: 100, RightPower: -100}},
		{"spin left", model.DriveCommand{Angle: 180, Force: 1}, model.MotorCommand{LeftPower: -100, RightPower: 100}},
		{"forward right", model.DriveCommand{Angle: 45, Force: 1}, model.MotorCommand{LeftPower: 100, RightPower: 0}},
		{"force clipped", model.DriveCommand{Angle: 90, Force: 4}, model.MotorCommand{LeftPower: 100, RightPower: 100}},
		{"released", model.DriveCommand{Angle: 90, Force: 0}, model.Stop},
		{"negative force", model.DriveCommand{Angle: 90, Force: -1}, model.Stop},
		{"nan angle", model.DriveCommand{Angle: math.NaN(), Force: 1}, model.Stop},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, JoystickToMotor(tc.in, 100))
		})
	}
}

func TestJoystickNeverExceedsMax(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("side powers stay within max", prop.ForAll(
		func(angle, force float64) bool {
			m := JoystickToMotor(model.DriveCommand{Angle: angle, Force: force}, 100)
			return m.MaxAbsPower() <= 100
		},
		gen.Float64Range(-720, 720),
		gen.Float64Range(-2, 2),
	))
	properties.TestingRun(t)
}

func TestWheelMappingProperty(t *testing.T) {
	h, d := readyHandle(t)
	r := New(h, &fakeHub{})
	c := &fakeClient{id: "prop"}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	properties.Property("driver receives (0,L) (1,R) (2,L) (3,R)", prop.ForAll(
		func(l, rp float64) bool {
			d.Reset()
			if err := r.Handle(context.Background(), c, protocol.Motor{MotorCommand: model.MotorCommand{LeftPower: l, RightPower: rp}}); err != nil {
				return false
			}
			calls := d.WheelCalls()
			want := []model.WheelCommand{{Wheel: 0, Power: l}, {Wheel: 1, Power: rp}, {Wheel: 2, Power: l}, {Wheel: 3, Power: rp}}
			if len(calls) != len(want) {
				return false
			}
			for i := range want {
				if calls[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.Float64Range(-1000, 1000),
		gen.Float64Range(-1000, 1000),
	))
	properties.TestingRun(t)
}
