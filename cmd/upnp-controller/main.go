// Command upnp-controller is a reference UPnP control point.
//
// It connects to devices by their description URL, invokes actions,
// subscribes to events and logs everything it does.
//
// Usage:
//
//	upnp-controller [flags]
//
// Flags:
//
//	-config string          Configuration file path (YAML)
//	-log-level string       Log level: debug, info, warn, error (default "info")
//	-interactive            Enable interactive command mode
//	-listen string          IPv4 address of the event callback listener (default "0.0.0.0:0")
//	-listen6 string         IPv6 address of the event callback listener (default "[::]:0")
//	-ipv6                   Use IPv6 endpoints (default true)
//	-action-timeout dur     Action call timeout (default 30s)
//	-max-pending int        Maximum concurrent action calls per device (default 64)
//	-subscription-duration  Requested event subscription duration (default 30m)
//	-metrics string         Address to serve Prometheus metrics on
//	-protocol-log string    File path for protocol event logging (CBOR format)
//	-log-protocol           Also write protocol events to the console log
//	-device url             Description URL of a device to connect at startup (repeatable)
//	-subscribe              Subscribe all evented services of connected devices
//
// Examples:
//
//	# Connect a device and watch its events
//	upnp-controller -device http://192.168.1.20:49152/description.xml -subscribe
//
//	# Interactive mode with metrics and a protocol log
//	upnp-controller -interactive -metrics :9090 -protocol-log controller.ulog
//
// Configuration file:
//
//	log_level: debug
//	action_timeout: 10s
//	subscribe: true
//	devices:
//	  - http://192.168.1.20:49152/description.xml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/upnpkit/upnpkit-go/cmd/upnp-controller/interactive"
	"github.com/upnpkit/upnpkit-go/pkg/controlpoint"
	upnplog "github.com/upnpkit/upnpkit-go/pkg/log"
	"github.com/upnpkit/upnpkit-go/pkg/version"
)

func main() {
	config, err := parseConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(config.LogLevel)

	log.Println("UPnP Reference Controller")
	log.Println("=========================")
	log.Printf("User agent: %s", version.UserAgent())

	cpConfig := config.controlPointConfig()
	cpConfig.Logger = logger
	client := &http.Client{}
	cpConfig.Client = client

	var protocolLogger *upnplog.FileLogger
	if config.ProtocolLog != "" {
		protocolLogger, err = upnplog.NewFileLogger(config.ProtocolLog)
		if err != nil {
			log.Fatalf("Failed to create protocol logger: %v", err)
		}
		log.Printf("Protocol logging to: %s", config.ProtocolLog)
	}
	cpConfig.ProtocolLogger = protocolLoggers(protocolLogger, logger, config.LogProtocol)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cp := controlpoint.New(cpConfig)
	if err := cp.Start(ctx); err != nil {
		log.Fatalf("Failed to start control point: %v", err)
	}
	log.Printf("Event callback listener on port %d", cp.State().HTTPPortV4())

	var metricsServer *http.Server
	if config.MetricsAddr != "" {
		metricsServer = startMetrics(config.MetricsAddr)
	}

	var ic *interactive.Controller
	if config.Interactive {
		ic, err = interactive.New(cp, client, config.Subscribe)
		if err != nil {
			log.Fatalf("Failed to create interactive controller: %v", err)
		}
		// Redirect log output through readline to avoid interfering with input
		log.SetOutput(ic.Stdout())
	} else {
		ic = interactive.NewWithOutput(cp, client, os.Stdout, config.Subscribe)
	}

	for _, location := range config.Devices {
		conn, err := ic.Connect(ctx, location)
		if err != nil {
			log.Printf("Failed to connect %s: %v", location, err)
			continue
		}
		log.Printf("Connected %s (%s)", conn.Device().FriendlyName, conn.DeviceUUID())
	}

	if config.Interactive {
		go ic.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
		// Cancelled by the interactive quit command
	}

	log.Println("Shutting down...")
	cancel()
	cp.Stop()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Metrics server shutdown: %v", err)
		}
		shutdownCancel()
	}
	if protocolLogger != nil {
		protocolLogger.Close()
	}

	log.Println("Goodbye!")
}

// setupLogging configures the standard logger for console output and
// returns the structured logger handed to the control point.
func setupLogging(level string) *slog.Logger {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	lvl, _ := parseLevel(level)
	if lvl == slog.LevelDebug {
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s (use: debug, info, warn, error)", s)
	}
}

// protocolLoggers combines the protocol log file with console output.
func protocolLoggers(file *upnplog.FileLogger, logger *slog.Logger, console bool) upnplog.Logger {
	var loggers []upnplog.Logger
	if file != nil {
		loggers = append(loggers, file)
	}
	if console {
		loggers = append(loggers, upnplog.NewSlogAdapter(logger).WithLevel(slog.LevelInfo))
	}
	switch len(loggers) {
	case 0:
		return nil
	case 1:
		return loggers[0]
	default:
		return upnplog.NewMultiLogger(loggers...)
	}
}

func metricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func startMetrics(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server: %v", err)
		}
	}()
	log.Printf("Serving metrics on %s/metrics", addr)
	return srv
}
