package model

import "fmt"

// Wheel identifies one of the four drive motors by its driver index.
type Wheel int

const (
	LeftFront Wheel = iota
	RightFront
	LeftBack
	RightBack
)

// WheelCount is the number of drive motors on the chassis.
const WheelCount = 4

// AllWheels returns the wheels in driver index order.
func AllWheels() []Wheel {
	return []Wheel{LeftFront, RightFront, LeftBack, RightBack}
}

// Valid reports whether w is a known wheel index.
func (w Wheel) Valid() bool {
	return w >= LeftFront && w <= RightBack
}

// String returns a human-readable name of the wheel.
func (w Wheel) String() string {
	switch w {
	case LeftFront:
		return "left_front"
	case RightFront:
		return "right_front"
	case LeftBack:
		return "left_back"
	case RightBack:
		return "right_back"
	default:
		return fmt.Sprintf("wheel(%d)", int(w))
	}
}

// IsLeft returns true for wheels on the left side of the chassis.
func (w Wheel) IsLeft() bool {
	return w == LeftFront || w == LeftBack
}
