package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/mutorelay/infra/driver/mqttdrv"
	"github.com/kilianp07/mutorelay/infra/logger"
)

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func chance(p float64) bool {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64() < p
}

// AckStrategy defines how the robot acknowledges commands.
type AckStrategy interface {
	Ack(ctx context.Context, cli paho.Client, topic string, ack mqttdrv.AckMessage)
}

// AutoAck sends an ack after an optional fixed delay.
type AutoAck struct {
	Delay time.Duration
	Log   logger.Logger
}

// Ack implements AckStrategy.
func (a AutoAck) Ack(ctx context.Context, cli paho.Client, topic string, ack mqttdrv.AckMessage) {
	if !sleep(ctx, a.Delay) {
		return
	}
	publishAck(cli, topic, ack, a.Log)
}

// RandomAck drops acks with the configured probability and waits for the
// specified delay before sending.
type RandomAck struct {
	Delay    time.Duration
	DropRate float64
	Log      logger.Logger
}

// Ack implements AckStrategy.
func (r RandomAck) Ack(ctx context.Context, cli paho.Client, topic string, ack mqttdrv.AckMessage) {
	if r.DropRate > 0 && chance(r.DropRate) {
		if r.Log != nil {
			r.Log.Debugf("dropping ack for %s", ack.CommandID)
		}
		return
	}
	if !sleep(ctx, r.Delay) {
		return
	}
	publishAck(cli, topic, ack, r.Log)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func publishAck(cli paho.Client, topic string, ack mqttdrv.AckMessage, log logger.Logger) {
	if log == nil {
		log = logger.NopLogger{}
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		log.Errorf("marshal ack: %v", err)
		return
	}
	token := cli.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		log.Warnf("ack publish timeout for %s", ack.CommandID)
		return
	}
	if err := token.Error(); err != nil {
		log.Errorf("publish ack %s: %v", ack.CommandID, err)
	}
}
