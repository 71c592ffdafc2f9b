package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/mutorelay/core/metrics"
	"github.com/kilianp07/mutorelay/core/model"
	"github.com/kilianp07/mutorelay/core/protocol"
)

// PromSink records relay activity in Prometheus metrics.
type PromSink struct {
	commands *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	chat     prometheus.Counter
	chatOut  prometheus.Counter
	ready    *prometheus.GaugeVec
	clients  prometheus.Gauge
	wheel    *prometheus.GaugeVec
}

// NewPromSink registers relay metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mutorelay_commands_total",
			Help: "Total number of handled robot commands",
		}, []string{"event", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mutorelay_command_duration_seconds",
			Help:    "Time spent applying a command on the driver",
			Buckets: prometheus.DefBuckets,
		}, []string{"event"}),
		chat: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mutorelay_chat_messages_total",
			Help: "Chat messages received",
		}),
		chatOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mutorelay_chat_deliveries_total",
			Help: "Chat messages delivered to clients",
		}),
		ready: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mutorelay_hardware_ready",
			Help: "1 when the hardware driver accepts commands",
		}, []string{"driver"}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mutorelay_clients",
			Help: "Connected WebSocket clients",
		}),
		wheel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mutorelay_wheel_power",
			Help: "Last power applied to each wheel",
		}, []string{"wheel"}),
	}
	var err error
	if s.commands, err = register(reg, s.commands); err != nil {
		return nil, err
	}
	if s.latency, err = register(reg, s.latency); err != nil {
		return nil, err
	}
	if s.chat, err = register(reg, s.chat); err != nil {
		return nil, err
	}
	if s.chatOut, err = register(reg, s.chatOut); err != nil {
		return nil, err
	}
	if s.ready, err = register(reg, s.ready); err != nil {
		return nil, err
	}
	if s.clients, err = register(reg, s.clients); err != nil {
		return nil, err
	}
	if s.wheel, err = register(reg, s.wheel); err != nil {
		return nil, err
	}
	return s, nil
}

// register returns the already registered collector when one exists so that
// several sinks can share a registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordCommand counts the command and, when applied, records its latency
// and the resulting wheel powers.
func (s *PromSink) RecordCommand(ev coremetrics.CommandEvent) error {
	s.commands.WithLabelValues(ev.Event, ev.Outcome).Inc()
	if ev.Outcome != coremetrics.OutcomeOK {
		return nil
	}
	s.latency.WithLabelValues(ev.Event).Observe(ev.Latency.Seconds())
	if ev.Event == protocol.EventBeep {
		return nil
	}
	cmd := model.MotorCommand{LeftPower: ev.LeftPower, RightPower: ev.RightPower}
	for _, wc := range cmd.WheelCommands() {
		s.wheel.WithLabelValues(wc.Wheel.String()).Set(wc.Power)
	}
	return nil
}

// RecordChat counts the message and its deliveries.
func (s *PromSink) RecordChat(ev coremetrics.ChatEvent) error {
	s.chat.Inc()
	s.chatOut.Add(float64(ev.Recipients))
	return nil
}

// RecordHardwareStatus sets the ready gauge of the driver.
func (s *PromSink) RecordHardwareStatus(ev coremetrics.StatusEvent) error {
	v := 0.0
	if ev.State == "ready" {
		v = 1
	}
	s.ready.WithLabelValues(ev.Driver).Set(v)
	return nil
}

// RecordClients sets the connected clients gauge.
func (s *PromSink) RecordClients(n int) error {
	s.clients.Set(float64(n))
	return nil
}
