// Command roombactl drives a robot over its serial Open Interface.
//
//	roombactl [flags] safe drive:200,0 sleep:2s stop value:battery_charge
//
// With -serve it instead runs the HTTP/WebSocket bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/roomba-oi/internal/config"
	"github.com/shaunagostinho/roomba-oi/internal/logger"
	"github.com/shaunagostinho/roomba-oi/internal/monitor"
	"github.com/shaunagostinho/roomba-oi/internal/robot"
	"github.com/shaunagostinho/roomba-oi/internal/server"
	"github.com/shaunagostinho/roomba-oi/internal/sim"
	"github.com/shaunagostinho/roomba-oi/internal/transport"
	"github.com/shaunagostinho/roomba-oi/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "roombactl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", config.DefaultPath, "Path to config file")
	port := flag.String("port", "", "Serial port to use instead of scanning")
	demo := flag.Bool("demo", false, "Talk to a simulated robot")
	serve := flag.Bool("serve", false, "Run the HTTP/WebSocket bridge")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	retries := flag.Int("retries", 0, "Extra connect attempts before giving up")
	flag.Parse()

	cfg := config.LoadConfig(*configPath)
	if *port != "" {
		cfg.Robot.PortPath = *port
	}
	if *demo {
		cfg.Robot.Demo = true
	}
	if *serve {
		cfg.Server.Enabled = true
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(cfg.Log)
	mainLog := logger.Component(log, "main")
	config.SetLogger(logger.Component(log, "config"))

	steps, err := parseSteps(flag.Args())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		mainLog.WithField("signal", sig.String()).Info("shutting down")
		cancel()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := monitor.NewMetrics(reg)

	ctrl := robot.New(
		transport.New(transportConfig(cfg.RobotSettings(), log)),
		robot.WithLogger(logger.Component(log, "robot")),
		robot.WithMetrics(metrics),
	)
	defer func() {
		if err := ctrl.Disconnect(); err != nil {
			mainLog.WithError(err).Warn("disconnect")
		}
	}()

	if cfg.ServerSettings().Enabled {
		// The bridge starts even if the robot is not reachable yet.
		go connectWithRetry(ctx, mainLog, ctrl, 0)
		srv := server.New(cfg, ctrl, reg, web.FS, logger.Component(log, "server"))
		return srv.Run(ctx)
	}

	if err := connectWithRetry(ctx, mainLog, ctrl, *retries+1); err != nil {
		return err
	}
	return runSteps(ctx, ctrl, steps, os.Stdout)
}

func transportConfig(rc config.RobotConfig, log *logrus.Logger) transport.Config {
	var cfg transport.Config
	if rc.Demo {
		cfg = sim.NewHost(sim.NewRobot()).TransportConfig()
	}
	cfg.PortPath = rc.PortPath
	cfg.ReadTimeout = rc.ReadTimeout()
	if rc.ScanOrder == "host" {
		cfg.Order = transport.HostOrder
	} else {
		cfg.Order = transport.SortedOrder
	}
	cfg.Logger = logger.Component(log, "transport")
	return cfg
}

// connectable is satisfied by *robot.Controller.
type connectable interface {
	Connect() error
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 30s. maxAttempts <= 0 retries
// until ctx is cancelled.
func connectWithRetry(ctx context.Context, log *logrus.Entry, c connectable, maxAttempts int) error {
	delay := 1 * time.Second
	maxDelay := 30 * time.Second

	for attempt := 1; ; attempt++ {
		err := c.Connect()
		if err == nil {
			log.WithField("attempt", attempt).Info("connected")
			return nil
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return err
		}
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"retry":   delay.String(),
		}).Warn("connect failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
