// Command onvif-gateway connects to one ONVIF camera and serves its
// connection state, a live trace of SOAP traffic and Prometheus metrics
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/SridarDhandapani/onvif/v2"
	"github.com/SridarDhandapani/onvif/v2/internal/metrics"
)

// settings are read from ONVIF_GATEWAY_* environment variables; flags
// override them
type settings struct {
	Listen          string        `envconfig:"LISTEN" default:":8080"`
	Camera          string        `envconfig:"CAMERA"`
	Username        string        `envconfig:"USERNAME"`
	Password        string        `envconfig:"PASSWORD"`
	Timeout         time.Duration `envconfig:"TIMEOUT" default:"10s"`
	PreserveAddress bool          `envconfig:"PRESERVE_ADDRESS"`
	InsecureTLS     bool          `envconfig:"INSECURE_TLS"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
}

func loadSettings(args []string) (settings, error) {
	var s settings
	if err := envconfig.Process("onvif_gateway", &s); err != nil {
		return s, err
	}

	fs := flag.NewFlagSet("onvif-gateway", flag.ContinueOnError)
	fs.StringVar(&s.Listen, "listen", s.Listen, "HTTP listen address")
	fs.StringVar(&s.Camera, "camera", s.Camera, "Camera device service address (http://host[:port]/onvif/device_service)")
	fs.StringVar(&s.Username, "user", s.Username, "ONVIF username")
	fs.StringVar(&s.Password, "pass", s.Password, "ONVIF password")
	fs.DurationVar(&s.Timeout, "timeout", s.Timeout, "Per-request timeout")
	fs.BoolVar(&s.PreserveAddress, "preserve-address", s.PreserveAddress, "Rewrite service addresses to the camera address")
	fs.BoolVar(&s.InsecureTLS, "insecure", s.InsecureTLS, "Skip TLS certificate verification")
	fs.StringVar(&s.LogLevel, "log-level", s.LogLevel, "Log level")
	if err := fs.Parse(args); err != nil {
		return s, err
	}

	if s.Camera == "" {
		return s, errors.New("camera address is required (-camera or ONVIF_GATEWAY_CAMERA)")
	}
	return s, nil
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	s, err := loadSettings(os.Args[1:])
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Str("level", s.LogLevel).Msg("invalid log level")
	}
	logger = logger.Level(level)

	cfg, err := onvif.ConfigFromURL(s.Camera)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid camera address")
	}
	if s.Username != "" {
		cfg.Username = s.Username
		cfg.Password = s.Password
	}
	cfg.Timeout = s.Timeout
	cfg.PreserveAddress = s.PreserveAddress
	cfg.InsecureTLS = s.InsecureTLS
	cfg.Logger = &logger

	client, err := onvif.NewClient(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create client")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	observer, err := metrics.New(reg, cfg.Hostname)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register metrics")
	}
	trace := newTraceHub(logger)
	client.AddObserver(observer)
	client.AddObserver(trace)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to camera")
	}

	srv := &http.Server{
		Addr:    s.Listen,
		Handler: newServer(client, trace, reg, logger).router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("listen", s.Listen).Str("camera", s.Camera).Msg("gateway started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
