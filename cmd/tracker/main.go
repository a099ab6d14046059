// Command tracker receives OSC position updates from video trackers, decides
// when to fire stimulation pulses and drives the configured outputs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/banshee-data/tracking.stimulator/internal/config"
	"github.com/banshee-data/tracking.stimulator/internal/db"
	"github.com/banshee-data/tracking.stimulator/internal/host"
	"github.com/banshee-data/tracking.stimulator/internal/monitor"
	"github.com/banshee-data/tracking.stimulator/internal/monitoring"
	"github.com/banshee-data/tracking.stimulator/internal/mqttpub"
	"github.com/banshee-data/tracking.stimulator/internal/stimulator"
	"github.com/banshee-data/tracking.stimulator/internal/timeutil"
	"github.com/banshee-data/tracking.stimulator/internal/tracking/network"
	"github.com/banshee-data/tracking.stimulator/internal/tracking/node"
	"github.com/banshee-data/tracking.stimulator/internal/version"
	"github.com/banshee-data/tracking.stimulator/internal/visualiser"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the JSON configuration file (empty for built-in defaults)")
	listen      = flag.String("listen", "", "HTTP listen address (overrides outputs.http_listen)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC listen address (overrides outputs.grpc_listen)")
	dbPath      = flag.String("db-path", "", "SQLite database path (overrides outputs.db_path)")
	serialPort  = flag.String("serial", "", "Pulse generator serial port, or \"mock\" (overrides outputs.serial_port)")
	mqttBroker  = flag.String("mqtt-broker", "", "MQTT broker URL (overrides outputs.mqtt_broker)")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn or error")
	autoStart   = flag.Bool("acquire", false, "Start acquisition immediately")
	ignoreSaved = flag.Bool("ignore-saved", false, "Apply the configuration file instead of the settings saved in the database")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	monitoring.SetLogger(logger.Infof)

	if err := run(logger); err != nil {
		logger.Fatalw("tracker failed", "error", err)
	}
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

// applyFlags lets the command line override the outputs section.
func applyFlags(cfg *config.Config) {
	set := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	if cfg.Outputs == nil {
		cfg.Outputs = &config.OutputsConfig{}
	}
	set(&cfg.Outputs.HTTPListen, *listen)
	set(&cfg.Outputs.GRPCListen, *grpcListen)
	set(&cfg.Outputs.DBPath, *dbPath)
	set(&cfg.Outputs.SerialPort, *serialPort)
	set(&cfg.Outputs.MQTTBroker, *mqttBroker)
}

// fileSettings converts the configuration file into the form stored in the
// database.
func fileSettings(cfg *config.Config) db.Settings {
	return db.Settings{
		Sources:            cfg.Sources,
		Regions:            cfg.Regions,
		Trigger:            cfg.GetTriggerConfig(),
		StimulationEnabled: cfg.GetStimulationEnabled(),
		StimulationSource:  cfg.GetStimulationSourceIndex(),
	}
}

func newForwarder(addr string, logInterval time.Duration) (*network.Forwarder, error) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid forward address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return nil, fmt.Errorf("invalid forward port %q: %w", p, err)
	}
	return network.NewForwarder(h, port, network.NewDatagramStats(), logInterval)
}

func run(logger *zap.SugaredLogger) error {
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg)
	logger.Infow("starting", "version", version.String(), "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	listenerCfg := network.ListenerConfig{
		BindHost:    cfg.GetBindHost(),
		RcvBuf:      cfg.GetRcvBuf(),
		LogInterval: cfg.GetLogInterval(),
		StopTimeout: cfg.GetStopTimeout(),
		Factory:     network.RealUDPSocketFactory{},
	}
	if addr := cfg.GetForwardAddr(); addr != "" {
		fwd, err := newForwarder(addr, cfg.GetLogInterval())
		if err != nil {
			return err
		}
		fwd.Start(ctx)
		defer fwd.Close()
		listenerCfg.Forwarder = fwd
	}

	sw := timeutil.NewSoftwareClock(timeutil.RealClock{})
	n := node.New(node.Options{
		Listener: listenerCfg,
		Software: sw,
		Status:   func(msg string) { logger.Warnw("status", "message", msg) },
	})

	settings, ok, err := database.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load saved settings: %w", err)
	}
	if !ok || *ignoreSaved {
		settings = fileSettings(cfg)
	} else {
		logger.Infow("restoring saved settings", "sources", len(settings.Sources), "regions", len(settings.Regions))
	}
	if err := monitor.ApplySettings(n, settings); err != nil {
		// Sources that failed to bind are reported and skipped.
		logger.Warnw("some settings could not be applied", "error", err)
	}

	runner := host.NewRunner(n, host.Config{
		SampleRate: cfg.GetSampleRate(),
		BlockSize:  cfg.GetBlockSize(),
		Software:   sw,
		Sessions:   database,
	})

	var wg sync.WaitGroup
	admin := []func(*http.ServeMux){
		func(mux *http.ServeMux) {
			if err := database.AttachAdminRoutes(mux); err != nil {
				logger.Errorw("failed to attach database admin routes", "error", err)
			}
		},
	}

	if path := cfg.GetSerialPort(); path != "" {
		port, err := stimulator.Open(path, stimulator.PortOptions{BaudRate: cfg.GetSerialBaud()})
		if err != nil {
			return fmt.Errorf("failed to open pulse generator: %w", err)
		}
		dev := stimulator.New(port)
		defer dev.Close()
		if err := dev.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize pulse generator: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dev.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorw("pulse generator monitor stopped", "error", err)
			}
		}()
		runner.AddSink("stimulator", dev)
		admin = append(admin, dev.AttachAdminRoutes)
		logger.Infow("pulse generator ready", "port", path)
	}

	if broker := cfg.GetMQTTBroker(); broker != "" {
		pub, err := mqttpub.Connect(ctx, mqttpub.Config{Broker: broker, Topic: cfg.GetMQTTTopic()})
		if err != nil {
			return err
		}
		defer pub.Close()
		runner.AddSink("mqtt", pub)
	}

	runner.AddSink("pulse-log", database.PulseLog())

	srv := monitor.NewServer(monitor.Config{
		Address:     cfg.GetHTTPListen(),
		Node:        n,
		Acquisition: runner,
		Store:       database,
		AdminRoutes: admin,
	})
	runner.AddSink("monitor", srv)

	if addr := cfg.GetGRPCListen(); addr != "" {
		vcfg := visualiser.DefaultConfig()
		vcfg.ListenAddr = addr
		vis := visualiser.NewPublisher(vcfg, func() interface{} { return srv.Status() })
		if err := vis.Start(); err != nil {
			return fmt.Errorf("failed to start gRPC publisher: %w", err)
		}
		defer vis.Stop()
		runner.AddSink("visualiser", vis)
	}

	errc := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil {
			errc <- fmt.Errorf("host runner: %w", err)
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		if err := srv.Start(ctx); err != nil {
			errc <- fmt.Errorf("http server: %w", err)
			stop()
		}
	}()

	if *autoStart {
		runner.StartAcquisition()
	}

	<-ctx.Done()
	logger.Infow("shutting down")
	wg.Wait()

	if err := database.SaveSettings(context.Background(), monitor.CurrentSettings(n)); err != nil {
		logger.Errorw("failed to save settings", "error", err)
	}
	close(errc)
	return <-errc
}
