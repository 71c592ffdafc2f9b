package mqttdrv

import (
	"fmt"

	"github.com/kilianp07/mutorelay/core/model"
)

// WheelTopic is where commands for one wheel are published.
func WheelTopic(prefix, robot string, w model.Wheel) string {
	return fmt.Sprintf("%s/%s/wheel/%d", prefix, robot, int(w))
}

// WheelFilter matches the topics of every wheel of the robot.
func WheelFilter(prefix, robot string) string {
	return fmt.Sprintf("%s/%s/wheel/+", prefix, robot)
}

// BeepTopic carries buzzer commands.
func BeepTopic(prefix, robot string) string {
	return fmt.Sprintf("%s/%s/beep", prefix, robot)
}

// AckTopic is where the robot acknowledges commands.
func AckTopic(prefix, robot string) string {
	return fmt.Sprintf("%s/%s/ack", prefix, robot)
}

// WheelMessage is the payload published on a wheel topic.
type WheelMessage struct {
	CommandID string  `json:"command_id"`
	Wheel     int     `json:"wheel"`
	Power     float64 `json:"power"`
	Timestamp int64   `json:"timestamp"`
}

// BeepMessage is the payload published on the beep topic.
type BeepMessage struct {
	CommandID string `json:"command_id"`
	On        bool   `json:"on"`
	Timestamp int64  `json:"timestamp"`
}

// AckMessage is sent back by the robot for each command it applied.
type AckMessage struct {
	CommandID string `json:"command_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}
