package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"modbus-mqtt-gateway/internal/config"
	"modbus-mqtt-gateway/internal/device"
	"modbus-mqtt-gateway/internal/gwmetrics"
	"modbus-mqtt-gateway/internal/model"
	"modbus-mqtt-gateway/internal/mqttbridge"
	"modbus-mqtt-gateway/internal/oneshot"
	"modbus-mqtt-gateway/internal/registry"
	"modbus-mqtt-gateway/internal/scheduler"
)

func main() {
	var (
		configFile     = flag.String("config", "gateway.yaml", "Path to configuration file")
		tcpRoot        = flag.String("tcp-root", "", "Root directory of the modbus_tcp device tree")
		rtuRoot        = flag.String("rtu-root", "", "Root directory of the modbus_rtu_over_tcp device tree")
		mqttHost       = flag.String("mqtt-host", "", "MQTT broker host (overrides config file)")
		mqttPort       = flag.Int("mqtt-port", 0, "MQTT broker port (overrides config file)")
		logLevel       = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		metricsPort    = flag.Int("metrics-port", 0, "HTTP port for /health and /metrics")
		dumpInventory  = flag.Bool("dump-inventory", false, "Load the device tree, print it as YAML, and exit")
		tagName        = flag.String("tag-name", "", "Read this tag once, print the value, and exit")
		retry          = flag.Int("retry", 1, "Number of one-shot read attempts before giving up")
	)
	flag.StringVar(tagName, "t", "", "Shorthand for -tag-name")
	flag.IntVar(retry, "r", 1, "Shorthand for -retry")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	if *tcpRoot != "" {
		cfg.Gateway.TCPRoot = *tcpRoot
	}
	if *rtuRoot != "" {
		cfg.Gateway.RTUOverTCPRoot = *rtuRoot
	}
	if *mqttHost != "" {
		cfg.MQTT.Host = *mqttHost
	}
	if *mqttPort != 0 {
		cfg.MQTT.Port = *mqttPort
	}
	if *logLevel != "" {
		cfg.Gateway.LogLevel = *logLevel
	}
	if *metricsPort != 0 {
		cfg.Gateway.MetricsPort = *metricsPort
	}

	logger := setupLogger(cfg.Gateway.LogLevel)
	defer logger.Sync()

	logger.Info("starting modbus-mqtt-gateway",
		zap.String("tcp_root", cfg.Gateway.TCPRoot),
		zap.String("rtu_root", cfg.Gateway.RTUOverTCPRoot),
		zap.String("mqtt_broker", fmt.Sprintf("%s://%s:%d", cfg.MQTT.Protocol, cfg.MQTT.Host, cfg.MQTT.Port)),
	)

	devices, err := registry.Load(registry.Roots{
		TCPRoot:        cfg.Gateway.TCPRoot,
		RTUOverTCPRoot: cfg.Gateway.RTUOverTCPRoot,
	}, logger)
	if err != nil {
		logger.Fatal("failed to load device registry", zap.Error(err))
	}

	metrics := gwmetrics.New()
	for _, d := range devices {
		d.SetMetrics(metrics)
	}

	if *dumpInventory {
		if err := dumpInventoryYAML(os.Stdout, devices); err != nil {
			logger.Fatal("failed to dump inventory", zap.Error(err))
		}
		return
	}

	if *tagName != "" {
		tags := make([]oneshot.Tag, len(devices))
		for i, d := range devices {
			tags[i] = d
		}
		out, err := oneshot.Run(context.Background(), tags, *tagName, *retry, logger)
		if err != nil {
			fmt.Print("Error")
			return
		}
		fmt.Print(out)
		return
	}

	runDaemon(cfg, devices, metrics, logger)
}

func runDaemon(cfg *config.Config, devices []*device.Device, metrics *gwmetrics.Registry, logger *zap.Logger) {
	schedulerTags := make([]scheduler.Tag, len(devices))
	bridgeTags := make([]mqttbridge.Tag, len(devices))
	for i, d := range devices {
		schedulerTags[i] = d
		bridgeTags[i] = d
	}

	bridge, err := mqttbridge.New(mqttbridge.Config{
		Protocol: cfg.MQTT.Protocol,
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		QoS:      byte(cfg.MQTT.QoS),
		Prefix:   cfg.MQTT.Prefix,
		ClientID: cfg.MQTT.ClientID,
	}, bridgeTags, logger)
	if err != nil {
		logger.Fatal("failed to construct MQTT bridge", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bridge.Connect(ctx); err != nil {
		logger.Fatal("failed to connect to MQTT broker", zap.Error(err))
	}

	sched := scheduler.New(schedulerTags, bridge, logger)
	sched.Start(ctx)

	mux := http.NewServeMux()
	metrics.Handler(mux)
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Gateway.MetricsPort), Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped unexpectedly", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("received shutdown signal, shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownGrace)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	sched.Wait()
	logger.Info("gateway shutdown complete")
}

// inventoryEntry is the --dump-inventory wire shape: a flattened summary of
// every loaded tag, independent of the device.Device internals.
type inventoryEntry struct {
	Device string `yaml:"device"`
	Tag    string `yaml:"tag"`
	Mode   string `yaml:"mode"`
}

func dumpInventoryYAML(w *os.File, devices []*device.Device) error {
	entries := make([]inventoryEntry, 0, len(devices))
	for _, d := range devices {
		mode := "Read"
		if d.Mode() == model.Write {
			mode = "Write"
		}
		entries = append(entries, inventoryEntry{Device: d.DeviceName(), Tag: d.TagName(), Mode: mode})
	}

	out, err := yaml.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zapConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return logger
}
