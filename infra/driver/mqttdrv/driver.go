// Package mqttdrv drives a robot that listens on an MQTT broker. Each wheel
// call is published to its own topic and may optionally wait for the robot
// acknowledgment.
package mqttdrv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/mutorelay/core/factory"
	"github.com/kilianp07/mutorelay/core/logger"
	"github.com/kilianp07/mutorelay/core/model"
	infralogger "github.com/kilianp07/mutorelay/infra/logger"
)

var (
	// ErrAckTimeout is returned when the robot did not acknowledge in time.
	ErrAckTimeout = errors.New("ack timeout")
	// ErrRejected is returned when the robot acknowledged with ok=false.
	ErrRejected = errors.New("command rejected by robot")
)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Driver publishes wheel and beep commands to the robot topics.
type Driver struct {
	cfg    Config
	cli    pahoClient
	log    logger.Logger
	prefix string
	robot  string

	mu      sync.Mutex
	pending map[string]chan AckMessage
}

// Factory builds a Driver from a raw module config.
func Factory(conf map[string]any) (*Driver, error) {
	var cfg Config
	if err := factory.Decode(conf, &cfg); err != nil {
		return nil, fmt.Errorf("mqtt driver config: %w", err)
	}
	return New(cfg)
}

// New connects to the broker and subscribes to the acknowledgment topic.
func New(cfg Config) (*Driver, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt driver: broker is required")
	}
	cfg.setDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := infralogger.New("mqtt_driver")
	d := &Driver{
		cfg:     cfg,
		log:     log,
		prefix:  cfg.TopicPrefix,
		robot:   cfg.Robot,
		pending: make(map[string]chan AckMessage),
	}
	ackTopic := AckTopic(d.prefix, d.robot)
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
		if token := c.Subscribe(ackTopic, cfg.qos("ack"), d.onAck); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe %s: %v", ackTopic, token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond) {
		return nil, fmt.Errorf("connect %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	d.cli = c
	return d, nil
}

// NewClientOptions builds paho client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

func (d *Driver) onAck(_ paho.Client, msg paho.Message) {
	var ack AckMessage
	if err := json.Unmarshal(msg.Payload(), &ack); err != nil {
		d.log.Errorf("failed to decode ack: %v", err)
		return
	}
	d.mu.Lock()
	ch, ok := d.pending[ack.CommandID]
	d.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

// SetWheel publishes the power of one wheel.
func (d *Driver) SetWheel(ctx context.Context, w model.Wheel, power float64) error {
	msg := WheelMessage{
		CommandID: uuid.NewString(),
		Wheel:     int(w),
		Power:     power,
		Timestamp: time.Now().UnixMilli(),
	}
	return d.send(ctx, WheelTopic(d.prefix, d.robot, w), msg.CommandID, msg)
}

// Beep publishes a buzzer command.
func (d *Driver) Beep(ctx context.Context, on bool) error {
	msg := BeepMessage{CommandID: uuid.NewString(), On: on, Timestamp: time.Now().UnixMilli()}
	return d.send(ctx, BeepTopic(d.prefix, d.robot), msg.CommandID, msg)
}

func (d *Driver) send(ctx context.Context, topic, cmdID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var ackCh chan AckMessage
	if d.cfg.AckTimeoutMS > 0 {
		ackCh = make(chan AckMessage, 1)
		d.mu.Lock()
		d.pending[cmdID] = ackCh
		d.mu.Unlock()
		defer func() {
			d.mu.Lock()
			delete(d.pending, cmdID)
			d.mu.Unlock()
		}()
	}
	if err := d.publish(ctx, topic, payload); err != nil {
		return err
	}
	d.log.Debugw("command published", map[string]any{"topic": topic, "command_id": cmdID})
	if ackCh == nil {
		return nil
	}
	return d.waitAck(ctx, cmdID, ackCh)
}

// publishBackoff spaces publish attempts exponentially from BackoffMS up to
// BackoffMaxMS.
func publishBackoff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(cfg.BackoffMS) * time.Millisecond
	b.MaxInterval = time.Duration(cfg.BackoffMaxMS) * time.Millisecond
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (d *Driver) publish(ctx context.Context, topic string, payload []byte) error {
	attempt := 0
	op := func() error {
		attempt++
		token := d.cli.Publish(topic, d.cfg.qos("command"), false, payload)
		select {
		case <-token.Done():
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		}
		if err := token.Error(); err != nil {
			d.log.Warnf("publish %s attempt %d failed: %v", topic, attempt, err)
			return err
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(publishBackoff(d.cfg), uint64(d.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (d *Driver) waitAck(ctx context.Context, cmdID string, ch <-chan AckMessage) error {
	timer := time.NewTimer(d.cfg.ackTimeout())
	defer timer.Stop()
	select {
	case ack := <-ch:
		if !ack.OK {
			return fmt.Errorf("%w: %s", ErrRejected, ack.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: command %s", ErrAckTimeout, cmdID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker.
func (d *Driver) Close() error {
	if d.cli != nil && d.cli.IsConnected() {
		d.cli.Disconnect(250)
	}
	return nil
}
