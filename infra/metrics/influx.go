package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/mutorelay/core/metrics"
	"github.com/kilianp07/mutorelay/infra/logger"
)

// InfluxSink writes relay events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	robot    string
	log      logger.Logger
}

// InfluxConfig holds the connection settings of the InfluxDB sink.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
	Robot  string `json:"robot"`
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		robot:    cfg.Robot,
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.Sink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) point(measurement string) *write.Point {
	p := write.NewPointWithMeasurement(measurement)
	if s.robot != "" {
		p.AddTag("robot", s.robot)
	}
	return p
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordCommand writes one motor_command point.
func (s *InfluxSink) RecordCommand(ev coremetrics.CommandEvent) error {
	p := s.point("motor_command").
		AddTag("event", ev.Event).
		AddTag("outcome", ev.Outcome).
		AddTag("client_id", ev.ClientID).
		AddField("command_id", ev.CommandID).
		AddField("left_power", round3(ev.LeftPower)).
		AddField("right_power", round3(ev.RightPower)).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordChat writes one chat_message point.
func (s *InfluxSink) RecordChat(ev coremetrics.ChatEvent) error {
	p := s.point("chat_message").
		AddTag("client_id", ev.ClientID).
		AddField("bytes", ev.Bytes).
		AddField("recipients", ev.Recipients).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordHardwareStatus writes one hardware_status point.
func (s *InfluxSink) RecordHardwareStatus(ev coremetrics.StatusEvent) error {
	p := s.point("hardware_status").
		AddTag("driver", ev.Driver).
		AddTag("state", ev.State).
		AddField("ready", ev.State == "ready").
		AddField("error", ev.Error).
		SetTime(ev.Time)
	return s.write(p)
}

// Close flushes and closes the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
