package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/mutorelay/core/model"
	"github.com/kilianp07/mutorelay/infra/driver/mqttdrv"
	"github.com/kilianp07/mutorelay/infra/logger"
)

// SimulatedRobot subscribes to the wheel and beep topics, keeps the last
// power of each wheel and acknowledges every command.
type SimulatedRobot struct {
	Broker      string
	TopicPrefix string
	Robot       string
	FailWheel   int
	Strategy    AckStrategy
	Log         logger.Logger

	mu     sync.Mutex
	powers [model.WheelCount]float64
	beep   bool
	count  int

	client paho.Client
	ackCh  chan mqttdrv.AckMessage
}

// NewSimulatedRobot creates a robot from cfg.
func NewSimulatedRobot(cfg Config, strat AckStrategy, log logger.Logger) *SimulatedRobot {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &SimulatedRobot{
		Broker:      cfg.Broker,
		TopicPrefix: cfg.TopicPrefix,
		Robot:       cfg.Robot,
		FailWheel:   cfg.FailWheel,
		Strategy:    strat,
		Log:         log,
		ackCh:       make(chan mqttdrv.AckMessage, 64),
	}
}

// Run connects to the broker and serves commands until ctx is done.
func (r *SimulatedRobot) Run(ctx context.Context) error {
	cli, err := newMQTTClient(r.Broker, "sim-"+r.Robot)
	if err != nil {
		return err
	}
	r.client = cli
	for i := 0; i < 4; i++ {
		go r.worker(ctx)
	}
	subs := map[string]func([]byte) (mqttdrv.AckMessage, bool){
		mqttdrv.WheelFilter(r.TopicPrefix, r.Robot): r.HandleWheel,
		mqttdrv.BeepTopic(r.TopicPrefix, r.Robot):   r.HandleBeep,
	}
	for topic, h := range subs {
		if token := cli.Subscribe(topic, 1, r.onMessage(h)); token.Wait() && token.Error() != nil {
			cli.Disconnect(250)
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
	}
	r.Log.Infof("robot %s listening on %s", r.Robot, r.Broker)
	<-ctx.Done()
	cli.Disconnect(250)
	return nil
}

func (r *SimulatedRobot) onMessage(handle func([]byte) (mqttdrv.AckMessage, bool)) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		ack, ok := handle(msg.Payload())
		if !ok {
			return
		}
		select {
		case r.ackCh <- ack:
		default:
			r.Log.Warnf("ack queue full, dropping %s", ack.CommandID)
		}
	}
}

func (r *SimulatedRobot) worker(ctx context.Context) {
	topic := mqttdrv.AckTopic(r.TopicPrefix, r.Robot)
	for {
		select {
		case ack := <-r.ackCh:
			r.Strategy.Ack(ctx, r.client, topic, ack)
		case <-ctx.Done():
			return
		}
	}
}

// HandleWheel applies a wheel command. It reports false when the payload
// carries no command id to acknowledge.
func (r *SimulatedRobot) HandleWheel(payload []byte) (mqttdrv.AckMessage, bool) {
	var m mqttdrv.WheelMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		r.Log.Warnf("decode wheel command: %v", err)
		return mqttdrv.AckMessage{}, false
	}
	ack := mqttdrv.AckMessage{CommandID: m.CommandID, OK: true}
	w := model.Wheel(m.Wheel)
	switch {
	case !w.Valid():
		ack.OK, ack.Error = false, fmt.Sprintf("invalid wheel %d", m.Wheel)
	case m.Wheel == r.FailWheel:
		ack.OK, ack.Error = false, fmt.Sprintf("wheel %d motor fault", m.Wheel)
	default:
		r.mu.Lock()
		r.powers[w] = m.Power
		r.count++
		powers := r.powers
		r.mu.Unlock()
		r.Log.Debugw("wheel", map[string]any{"wheel": w.String(), "power": m.Power, "state": powers})
	}
	return ack, m.CommandID != ""
}

// HandleBeep switches the buzzer.
func (r *SimulatedRobot) HandleBeep(payload []byte) (mqttdrv.AckMessage, bool) {
	var m mqttdrv.BeepMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		r.Log.Warnf("decode beep command: %v", err)
		return mqttdrv.AckMessage{}, false
	}
	r.mu.Lock()
	r.beep = m.On
	r.count++
	r.mu.Unlock()
	r.Log.Infof("buzzer on=%t", m.On)
	return mqttdrv.AckMessage{CommandID: m.CommandID, OK: true}, m.CommandID != ""
}

// State returns the last power of every wheel and the buzzer state.
func (r *SimulatedRobot) State() ([model.WheelCount]float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.powers, r.beep
}

// Applied returns the number of commands applied.
func (r *SimulatedRobot) Applied() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
