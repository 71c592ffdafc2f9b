package main

import (
	"errors"
	"time"
)

// Config holds parameters for the simulator.
type Config struct {
	Broker      string
	TopicPrefix string
	Robot       string
	AckLatency  time.Duration
	DropRate    float64
	// FailWheel rejects every command for that wheel index. -1 disables.
	FailWheel int
	Verbose   bool
}

// Validate checks the flag values.
func (c *Config) Validate() error {
	if c.Broker == "" {
		return errors.New("broker is required")
	}
	if c.DropRate < 0 || c.DropRate > 1 {
		return errors.New("drop-rate must be within [0,1]")
	}
	if c.AckLatency < 0 {
		return errors.New("ack-latency must not be negative")
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "muto"
	}
	if c.Robot == "" {
		c.Robot = "muto"
	}
	return nil
}
