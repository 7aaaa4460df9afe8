// microplot-client is the host-side controller for the microplot
// drawing machine. It records touch strokes, transforms them into the
// plotter's workspace, encodes them as a G-code program and streams
// the program to the device with queue backpressure. The operator
// dashboard is served over HTTP with websocket status pushes.
//
// Usage:
//
//	microplot-client -config microplot.cfg [options]
//
// Options:
//
//	-config string        Client configuration file (required)
//	-addr string          Console listen address (overrides config)
//	-metrics-addr string  Standalone metrics server address (optional)
//	-log-level string     debug, info, warn or error (default "info")
//	-logfile string       Log file path with rotation (default: stderr)
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"microplot-client/pkg/capture"
	"microplot-client/pkg/config"
	"microplot-client/pkg/console"
	"microplot-client/pkg/device"
	"microplot-client/pkg/log"
	"microplot-client/pkg/metrics"
	"microplot-client/pkg/sketch"
	"microplot-client/pkg/stream"
	"microplot-client/pkg/transform"
)

func main() {
	configFile := flag.String("config", "", "Client configuration file (required)")
	addr := flag.String("addr", "", "Console listen address (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "Standalone metrics server address (optional)")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	logFile := flag.String("logfile", "", "Log file path with rotation (default: stderr)")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config is required\n")
		flag.Usage()
		os.Exit(1)
	}

	logger := log.New("microplot")
	logger.SetLevel(log.ParseLevel(*logLevel))
	if *logFile != "" {
		writer, err := log.NewRotatingFileWriter(log.RotationConfig{Filename: *logFile})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer writer.Close()
		logger.SetWriter(writer)
		logger.SetColorize(false)
	}
	log.ConfigureFromEnv(logger)
	log.SetDefaultLogger(logger)

	saved, err := config.LoadAutosave(*configFile)
	if err != nil {
		logger.Error("loading config failed: %v", err)
		os.Exit(1)
	}

	app, err := buildApp(saved, logger)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	if *addr != "" {
		app.consoleCfg.Addr = *addr
	}

	if err := saved.CheckUnusedOptions(); err != nil {
		logger.Warn("%v", err)
	}

	recorder := sketch.NewRecorder(app.resolution, logger.WithPrefix("sketch"))
	dev := device.NewClient(app.deviceURL, logger.WithPrefix("device"))
	streamer := stream.NewStreamer(dev, app.streamCfg, logger.WithPrefix("stream"))
	server := console.NewServer(app.consoleCfg, recorder, streamer, dev,
		app.params, saved, logger.WithPrefix("console"))

	// Local capture source, if configured. The HTTP touch endpoints
	// remain available either way.
	if src := openSource(app, logger); src != nil {
		defer src.Close()
		go capture.Pump(src, recorder)
	}

	if *metricsAddr != "" {
		ms := metrics.NewMetricsServer(metrics.GlobalMetrics(), *metricsAddr)
		errCh := ms.StartAsync()
		go func() {
			if err := <-errCh; err != nil {
				logger.Error("metrics server failed: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received %v, shutting down", sig)
		server.Stop()
	}()

	logger.Info("microplot client starting, device %s", app.deviceURL)
	if err := server.Start(); err != nil {
		logger.Info("console server stopped: %v", err)
	}
}

// appConfig is the fully resolved configuration.
type appConfig struct {
	deviceURL  string
	params     transform.Params
	resolution float64
	streamCfg  stream.Config
	consoleCfg console.Config

	captureMode string
	captureDev  string
	captureGrab bool
	replayPath  string
}

// buildApp resolves the config file sections into component configs.
func buildApp(saved *config.AutosaveConfig, logger *log.Logger) (*appConfig, error) {
	app := &appConfig{}

	devSec, err := saved.GetSection("device")
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	app.deviceURL, err = devSec.Get("base_url")
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	surface := saved.GetSectionOptional("surface")
	workspace := saved.GetSectionOptional("workspace")
	app.params.SurfaceWidth = optFloat(surface, "width", 800)
	app.params.SurfaceHeight = optFloat(surface, "height", 480)
	app.params.WorkspaceWidth = optFloat(workspace, "width", 310)
	app.params.WorkspaceHeight = optFloat(workspace, "height", 380)
	app.params.OffsetX = optFloat(workspace, "offset_x", 0)
	app.params.OffsetY = optFloat(workspace, "offset_y", 0)

	capSec := saved.GetSectionOptional("capture")
	app.resolution = optFloat(capSec, "resolution", 5.0)
	app.captureMode = "none"
	if capSec != nil {
		app.captureMode, err = capSec.GetChoice("mode",
			[]string{"evdev", "replay", "none"}, "none")
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	app.captureDev = optString(capSec, "device", "/dev/input/event0")
	app.captureGrab = optBool(capSec, "grab", false)
	app.replayPath = optString(capSec, "script", "")

	streamSec := saved.GetSectionOptional("streamer")
	defaults := stream.DefaultConfig()
	app.streamCfg.BatchSize = optInt(streamSec, "batch_size", defaults.BatchSize)
	app.streamCfg.HighWater = optInt(streamSec, "high_water", defaults.HighWater)
	app.streamCfg.PollInterval = optSeconds(streamSec, "poll_interval", defaults.PollInterval)
	app.streamCfg.BatchDelay = optSeconds(streamSec, "batch_delay", defaults.BatchDelay)

	consoleSec := saved.GetSectionOptional("console")
	app.consoleCfg.Addr = optString(consoleSec, "addr", ":8080")
	app.consoleCfg.StatusPeriod = optSeconds(consoleSec, "status_period", console.DefaultStatusPeriod)
	app.consoleCfg.MaxHistory = optInt(consoleSec, "max_history", console.DefaultMaxHistory)

	return app, nil
}

// Optional-section getters: a missing section yields the default.

func optFloat(sec *config.Section, option string, def float64) float64 {
	if sec == nil {
		return def
	}
	v, err := sec.GetFloat(option, def)
	if err != nil {
		return def
	}
	return v
}

func optInt(sec *config.Section, option string, def int) int {
	if sec == nil {
		return def
	}
	v, err := sec.GetInt(option, def)
	if err != nil {
		return def
	}
	return v
}

func optString(sec *config.Section, option, def string) string {
	if sec == nil {
		return def
	}
	v, err := sec.Get(option, def)
	if err != nil {
		return def
	}
	return v
}

func optBool(sec *config.Section, option string, def bool) bool {
	if sec == nil {
		return def
	}
	v, err := sec.GetBool(option, def)
	if err != nil {
		return def
	}
	return v
}

func optSeconds(sec *config.Section, option string, def time.Duration) time.Duration {
	secs := optFloat(sec, option, def.Seconds())
	return time.Duration(secs * float64(time.Second))
}

// openSource opens the configured local capture source, or nil when
// none is configured or it fails to open.
func openSource(app *appConfig, logger *log.Logger) capture.Source {
	switch app.captureMode {
	case "evdev":
		src, err := capture.OpenEvdev(app.captureDev, app.captureGrab,
			logger.WithPrefix("capture"))
		if err != nil {
			logger.Error("opening touch device failed: %v", err)
			return nil
		}
		logger.Info("capturing touches from %s", app.captureDev)
		return src
	case "replay":
		f, err := os.Open(app.replayPath)
		if err != nil {
			logger.Error("opening replay script failed: %v", err)
			return nil
		}
		logger.Info("replaying touches from %s", app.replayPath)
		return capture.NewReplaySource(f, logger.WithPrefix("capture"))
	}
	return nil
}
