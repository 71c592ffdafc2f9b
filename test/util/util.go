// Package util provides helpers shared across integration tests.
//
// StartMosquitto launches a disposable Mosquitto broker in a Docker container
// for MQTT-based tests. It returns the broker URL and a cleanup function.
//
// RunAckRobot subscribes to the wheel and beep topics of a robot and
// acknowledges every command, recording the wheel calls it received.
package util

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/mutorelay/core/model"
	"github.com/kilianp07/mutorelay/infra/driver/mqttdrv"
)

const (
	MosquittoReadyTimeout = 5 * time.Second

	pollInterval = 100 * time.Millisecond
)

const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
log_dest stdout
`

// StartMosquitto starts an eclipse-mosquitto container.
func StartMosquitto(ctx context.Context, dir string) (string, func(), error) {
	path := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(path, []byte(mosquittoConf), 0o644); err != nil {
		return "", nil, fmt.Errorf("write conf: %w", err)
	}
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			HostFilePath:      path,
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		return "", nil, fmt.Errorf("container start: %w", err)
	}
	cleanup := func() { _ = cont.Terminate(context.Background()) }
	host, err := cont.Host(ctx)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("host: %w", err)
	}
	port, err := cont.MappedPort(ctx, "1883")
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("port: %w", err)
	}
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())
	if err := WaitForMQTTReady(broker, MosquittoReadyTimeout); err != nil {
		cleanup()
		return "", nil, err
	}
	return broker, cleanup, nil
}

// WaitForMQTTReady polls the broker until a client can connect.
func WaitForMQTTReady(broker string, timeout time.Duration) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("readiness-check")
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		cli := paho.NewClient(opts)
		token := cli.Connect()
		token.Wait()
		if token.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		lastErr = token.Error()
		time.Sleep(pollInterval)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for broker")
	}
	return lastErr
}

// AckRobot is a minimal robot answering on the ack topic.
type AckRobot struct {
	cli paho.Client

	mu    sync.Mutex
	calls []model.WheelCommand
	// Reject makes the robot acknowledge with ok=false.
	Reject bool
}

// Calls returns the wheel commands received so far in arrival order.
func (r *AckRobot) Calls() []model.WheelCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.WheelCommand(nil), r.calls...)
}

// SetReject switches between accepting and rejecting commands.
func (r *AckRobot) SetReject(v bool) {
	r.mu.Lock()
	r.Reject = v
	r.mu.Unlock()
}

// Close disconnects the robot.
func (r *AckRobot) Close() { r.cli.Disconnect(100) }

// RunAckRobot connects a robot to broker using the given topic layout.
func RunAckRobot(broker, prefix, robot string) (*AckRobot, error) {
	r := &AckRobot{}
	cli := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("ack-robot"))
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	r.cli = cli
	ackTopic := mqttdrv.AckTopic(prefix, robot)
	ack := func(id string) {
		r.mu.Lock()
		msg := mqttdrv.AckMessage{CommandID: id, OK: !r.Reject}
		r.mu.Unlock()
		if !msg.OK {
			msg.Error = "rejected by test robot"
		}
		payload, _ := json.Marshal(msg)
		cli.Publish(ackTopic, 1, false, payload)
	}
	onWheel := func(_ paho.Client, m paho.Message) {
		var w mqttdrv.WheelMessage
		if err := json.Unmarshal(m.Payload(), &w); err != nil {
			return
		}
		r.mu.Lock()
		r.calls = append(r.calls, model.WheelCommand{Wheel: model.Wheel(w.Wheel), Power: w.Power})
		r.mu.Unlock()
		ack(w.CommandID)
	}
	onBeep := func(_ paho.Client, m paho.Message) {
		var b mqttdrv.BeepMessage
		if err := json.Unmarshal(m.Payload(), &b); err != nil {
			return
		}
		ack(b.CommandID)
	}
	if token := cli.Subscribe(mqttdrv.WheelFilter(prefix, robot), 1, onWheel); token.Wait() && token.Error() != nil {
		cli.Disconnect(100)
		return nil, token.Error()
	}
	if token := cli.Subscribe(mqttdrv.BeepTopic(prefix, robot), 1, onBeep); token.Wait() && token.Error() != nil {
		cli.Disconnect(100)
		return nil, token.Error()
	}
	return r, nil
}
