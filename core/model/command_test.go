package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWheelCommandsDuplicateSides(t *testing.T) {
	got := MotorCommand{LeftPower: 80, RightPower: 40}.WheelCommands()
	want := [WheelCount]WheelCommand{
		{Wheel: LeftFront, Power: 80},
		{Wheel: RightFront, Power: 40},
		{Wheel: LeftBack, Power: 80},
		{Wheel: RightBack, Power: 40},
	}
	assert.Equal(t, want, got)
}

func TestWheelIndexes(t *testing.T) {
	for i, w := range AllWheels() {
		assert.Equal(t, i, int(w))
		assert.True(t, w.Valid())
	}
	assert.False(t, Wheel(4).Valid())
	assert.False(t, Wheel(-1).Valid())
	assert.Equal(t, "wheel(7)", Wheel(7).String())
	assert.Equal(t, "right_back", RightBack.String())
}

func TestMaxAbsPower(t *testing.T) {
	assert.Equal(t, 120.0, MotorCommand{LeftPower: -120, RightPower: 50}.MaxAbsPower())
	assert.Equal(t, 0.0, Stop.MaxAbsPower())
}
