// Command speedometer samples a wheel pulse sensor, estimates RPM and speed,
// runs field calibration and publishes readings over MQTT and HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/speedometer/internal/adc"
	"github.com/sweeney/speedometer/internal/calibration"
	"github.com/sweeney/speedometer/internal/clock"
	"github.com/sweeney/speedometer/internal/config"
	"github.com/sweeney/speedometer/internal/logic"
	"github.com/sweeney/speedometer/internal/metrics"
	"github.com/sweeney/speedometer/internal/mqtt"
	"github.com/sweeney/speedometer/internal/pipeline"
	"github.com/sweeney/speedometer/internal/status"
	"github.com/sweeney/speedometer/internal/web"
)

func main() {
	configPath := flag.String("config", "/etc/speedometer.yaml", "YAML configuration file")
	broker := flag.String("broker", "", "MQTT broker address (overrides config, \"off\" disables)")
	httpAddr := flag.String("http", "", "HTTP status address (overrides config)")
	source := flag.String("source", "", "Converter source: sim, serial or gpio (overrides config)")
	printBatch := flag.Bool("print-batch", false, "Print one sample batch and exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	applyOverrides(cfg, *broker, *httpAddr, *source)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: invalid config: %v", err)
	}

	if err := run(cfg, *printBatch); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// applyOverrides copies non-empty flag values over the loaded config.
func applyOverrides(cfg *config.Config, broker, httpAddr, source string) {
	switch broker {
	case "":
	case "off":
		cfg.MQTT.Broker = ""
	default:
		cfg.MQTT.Broker = broker
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if source != "" {
		cfg.Sampler.Source = source
	}
}

// newSource builds the converter backend named in the config.
func newSource(cfg *config.Config) (adc.Source, error) {
	s := cfg.Sampler
	switch s.Source {
	case config.SourceSim:
		return adc.NewSimSource(adc.SimConfig{
			RPM:   s.Sim.RPM,
			High:  s.Sim.High,
			Low:   s.Sim.Low,
			Duty:  s.Sim.Duty,
			Noise: s.Sim.Noise,
		}), nil
	case config.SourceSerial:
		return adc.NewSerialSource(s.Serial.Port, s.Serial.BaudRate), nil
	case config.SourceGPIO:
		return adc.NewGPIOSource(s.GPIO.Chip, s.GPIO.Line, s.GPIO.ActiveLow), nil
	default:
		return nil, fmt.Errorf("unknown source %q", s.Source)
	}
}

// telemetry is the MQTT surface the daemon needs.
type telemetry interface {
	mqtt.Publisher
	mqtt.CommandSource
	mqtt.ConnectionStatus
}

func run(cfg *config.Config, printBatch bool) error {
	src, err := newSource(cfg)
	if err != nil {
		return err
	}

	sampler := adc.NewSampler(src, cfg.SamplerConfig())
	if err := sampler.Start(); err != nil {
		return fmt.Errorf("start sampler: %w", err)
	}
	defer sampler.Stop()

	// Print batch mode
	if printBatch {
		b, err := sampler.ReadBatch(2 * time.Second)
		if err != nil {
			return fmt.Errorf("read batch: %w", err)
		}
		for i, s := range b {
			fmt.Printf("%2d: channel=%d value=%d\n", i, s.Channel, s.Value)
		}
		return nil
	}

	// Initialize MQTT
	var publisher telemetry = mqtt.Discard
	if cfg.MQTT.Broker != "" {
		rp, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			BufferSize:  cfg.MQTT.BufferSize,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher = rp
	} else {
		log.Printf("mqtt: no broker configured, telemetry limited to http")
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), cfg.StatusConfig())
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// The edge clock free-runs for the life of the process; the window
	// timer only runs while a calibration window is open.
	edgeClock := clock.NewTimer(true)
	controller := calibration.NewController(clock.NewTimer(false), tracker)
	if err := publisher.SubscribeCommands(func(payload string) { controller.Handle(payload) }); err != nil {
		log.Printf("mqtt: subscribe commands: %v", err)
	}

	m := metrics.New()

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	srv := web.New(cfg.HTTP.Addr, tracker, m.Handler(), controller)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()
	defer srv.Shutdown(context.Background())
	log.Printf("http status server listening on %s", cfg.HTTP.Addr)

	p := pipeline.New(pipeline.Config{
		Channel:    cfg.Sampler.Channel,
		Threshold:  cfg.Detector.Threshold,
		Hysteresis: cfg.Detector.Hysteresis,
		Refractory: cfg.Detector.Refractory,
		Estimator:  cfg.EstimatorConfig(),
		OnEstimate: newEstimateHandler(publisher, publisher, tracker, m),
	}, sampler, edgeClock, tracker)

	log.Printf("started: source=%s rate=%dHz channel=%d threshold=%d/%d interval=%v broker=%s",
		cfg.Sampler.Source, cfg.Sampler.RateHz, cfg.Sampler.Channel,
		cfg.Detector.Threshold, cfg.Detector.Hysteresis, cfg.Estimator.Interval, cfg.MQTT.Broker)

	ticker := time.NewTicker(cfg.Estimator.Interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(p, publisher, publisher, tracker, time.Now, ticker.C, sigCh)
}

// newEstimateHandler returns the per-tick callback that fans a reading out
// to MQTT and metrics. It runs on the estimator goroutine.
func newEstimateHandler(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, m *metrics.Metrics) func(logic.Result, status.Snapshot) {
	return func(res logic.Result, snap status.Snapshot) {
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
		if m != nil {
			m.Observe(res, snap)
		}

		if err := publisher.PublishReading(mqtt.NewReading(snap)); err != nil {
			log.Printf("publish error: %v", err)
			// Don't crash on publish failure
		}

		if res.Calibration == nil {
			return
		}
		reason := "OK"
		if !res.Calibration.OK {
			reason = "FAILED"
		}
		event := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "CALIBRATED",
			Reason:     reason,
			RawPayload: status.FormatStatusEvent(snap, "CALIBRATED", reason),
		}
		if err := publisher.PublishSystem(event); err != nil {
			log.Printf("failed to publish calibration event: %v", err)
		}
	}
}

// runner is the part of the pipeline runLoop drives.
type runner interface {
	Run(ctx context.Context, tick <-chan time.Time) error
}

func runLoop(p runner, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, tick) }()

	select {
	case err := <-done:
		if err == nil {
			err = errors.New("pipeline stopped unexpectedly")
		}
		return fmt.Errorf("pipeline: %w", err)

	case s := <-sig:
		log.Printf("received %v, shutting down", s)
		cancel()
		if err := <-done; err != nil {
			log.Printf("pipeline stopped with error: %v", err)
		}

		signalName := "UNKNOWN"
		if s == syscall.SIGINT {
			signalName = "SIGINT"
		} else if s == syscall.SIGTERM {
			signalName = "SIGTERM"
		}
		event := mqtt.SystemEvent{
			Timestamp: now(),
			Event:     "SHUTDOWN",
			Reason:    signalName,
			Retained:  true,
		}
		if tracker != nil {
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			snap := tracker.Snapshot()
			event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
		}
		if err := publisher.PublishSystem(event); err != nil {
			log.Printf("failed to publish shutdown event: %v", err)
		} else {
			log.Printf("published shutdown event")
		}
		return nil
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
