// connkeeperd manages named database connection pools.
//
// It loads pool definitions from a TOML configuration file, opens each
// pool against its backing database, and keeps the pools healthy until
// the process is asked to stop. An optional HTTP endpoint exposes pool
// metrics in Prometheus text format.
//
// Usage:
//
//	connkeeperd [flags]
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "~/.connkeeper/config.toml")
//	-metrics string
//	    Metrics listen address (overrides config)
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/connkeeper/connkeeper/lib/config"
	"github.com/connkeeper/connkeeper/lib/metrics"
	"github.com/connkeeper/connkeeper/lib/registry"
	"github.com/connkeeper/connkeeper/version"
)

// shutdownTimeout bounds how long we wait for pools to drain on exit.
const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	defaultConfigPath := filepath.Join(homeDir, ".connkeeper", "config.toml")

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	metricsAddr := flag.String("metrics", "", "Metrics listen address (overrides config)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "connkeeperd - database connection pool manager\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  connkeeperd [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("connkeeperd version %s\n", version.Full())
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Error("failed to load config")
		return 1
	}

	configureLogging(cfg, *verbose)

	if *metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = *metricsAddr
	}

	metrics.RecordStartTime()

	reg := registry.New()
	if err := reg.LoadConfig(cfg); err != nil {
		logrus.WithError(err).Error("failed to open pools")
		return 1
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.WithError(err).Error("metrics server failed")
			}
		}()
		logrus.WithField("listen", cfg.Metrics.Listen).Info("metrics endpoint started")
	}

	logrus.WithFields(logrus.Fields{
		"pools":   len(reg.Names()),
		"version": version.Full(),
	}).Info("connkeeperd started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logrus.WithField("signal", sig).Info("received signal, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("metrics server shutdown failed")
		}
	}

	if err := reg.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("shutdown incomplete")
		return 1
	}

	logrus.Info("connkeeperd stopped")
	return 0
}

// configureLogging applies the log section of the configuration. The -v
// flag wins over the configured level.
func configureLogging(cfg *config.Config, verbose bool) {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	if cfg.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
