package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kilianp07/mutorelay/infra/logger"
)

func main() {
	cfg := parseFlags()
	if err := (&cfg).Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if cfg.Verbose {
		logger.SetLevel("debug")
	}
	logg := logger.New("simulator")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	strat := RandomAck{Delay: cfg.AckLatency, DropRate: cfg.DropRate, Log: logg}
	robot := NewSimulatedRobot(cfg, strat, logg)
	if err := robot.Run(ctx); err != nil {
		logg.Errorf("simulator: %v", err)
		os.Exit(1)
	}
	powers, beep := robot.State()
	logg.Infof("stopped after %d commands, wheels=%v beep=%t", robot.Applied(), powers, beep)
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&cfg.TopicPrefix, "topic-prefix", "muto", "MQTT topic prefix")
	flag.StringVar(&cfg.Robot, "robot", "muto", "robot name in topics")
	flag.DurationVar(&cfg.AckLatency, "ack-latency", 0, "ack latency")
	flag.Float64Var(&cfg.DropRate, "drop-rate", 0, "ack drop rate")
	flag.IntVar(&cfg.FailWheel, "fail-wheel", -1, "reject commands for this wheel index")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "enable debug logging")
	flag.Parse()
	return cfg
}
