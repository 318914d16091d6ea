package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"garage-door-service/internal/core"
	"garage-door-service/internal/hardware"
	"garage-door-service/internal/logger"
	"garage-door-service/internal/messaging"
	"garage-door-service/internal/protocol"
	"garage-door-service/internal/transport"
)

func main() {
	// Service log level
	var serviceLogLevel int
	flag.IntVar(&serviceLogLevel, "log", 3, "Service log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")

	var redisHost string
	var redisPort int
	flag.StringVar(&redisHost, "redis-host", "127.0.0.1", "Redis host")
	flag.IntVar(&redisPort, "redis-port", 6379, "Redis port")

	var broker, deviceID string
	flag.StringVar(&broker, "broker", "tcp://127.0.0.1:1883", "MQTT broker URL")
	flag.StringVar(&deviceID, "device", "garage", "Device identifier in report/set topics")

	// Data-point layout of the attached controller, 0 = absent
	var dpTrigger, dpContact, dpStatus, dpCountdown, dpRunTime, dpOpenAlarm int
	flag.IntVar(&dpTrigger, "dp-trigger", int(protocol.DefaultDataPoints.Trigger), "Trigger relay data point")
	flag.IntVar(&dpContact, "dp-contact", int(protocol.DefaultDataPoints.Contact), "Position contact data point")
	flag.IntVar(&dpStatus, "dp-status", int(protocol.DefaultDataPoints.StatusCode), "Status code data point")
	flag.IntVar(&dpCountdown, "dp-countdown", int(protocol.DefaultDataPoints.Countdown), "Countdown config data point")
	flag.IntVar(&dpRunTime, "dp-run-time", int(protocol.DefaultDataPoints.RunTime), "Run time config data point")
	flag.IntVar(&dpOpenAlarm, "dp-open-alarm", int(protocol.DefaultDataPoints.OpenAlarm), "Open alarm config data point")

	// Optional hardwired contact sensor
	var contactChip string
	var contactLine int
	var contactActiveLow bool
	flag.StringVar(&contactChip, "contact-chip", "gpiochip0", "GPIO chip for the local contact sensor")
	flag.IntVar(&contactLine, "contact-line", -1, "GPIO line for the local contact sensor (-1=disabled)")
	flag.BoolVar(&contactActiveLow, "contact-active-low", true, "Local contact reads low when the door is open")

	flag.Parse()

	// Create standard logger with appropriate format
	var stdLogger *log.Logger
	if os.Getenv("INVOCATION_ID") != "" {
		// Running under systemd, use minimal format
		stdLogger = log.New(os.Stdout, "", 0)
	} else {
		// Running interactively, use timestamps
		stdLogger = log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds|log.Lmsgprefix)
	}

	// Create leveled logger
	l := logger.NewLogger(stdLogger, logger.LogLevel(serviceLogLevel))

	l.Infof("Starting garage door service...")

	dps := protocol.DataPoints{
		Trigger:    protocol.DataPointID(dpTrigger),
		Contact:    protocol.DataPointID(dpContact),
		StatusCode: protocol.DataPointID(dpStatus),
		Countdown:  protocol.DataPointID(dpCountdown),
		RunTime:    protocol.DataPointID(dpRunTime),
		OpenAlarm:  protocol.DataPointID(dpOpenAlarm),
	}

	redisClient := messaging.NewRedisClient(redisHost, redisPort, l.WithTag("redis"))
	link := transport.NewMQTTLink(broker, deviceID, dps, l.WithTag("mqtt"))

	system := core.NewDoorSystem(link, redisClient, dps, l)

	if contactLine >= 0 {
		sensor := hardware.NewContactSensor(contactChip, contactLine, contactActiveLow,
			l.WithTag("gpio"), system.HandleContactReport)
		system.SetLocalContact(sensor)
	}

	if err := system.Start(); err != nil {
		l.Fatalf("Failed to start system: %v", err)
	}

	l.Infof("System started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	l.Infof("Received signal %v, shutting down...", sig)
	system.Shutdown()
	l.Infof("Shutdown complete")
}
