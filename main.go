package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"fkreview/config"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

const (
	envConfigPath = "FKREVIEW_CONFIG"
	envExportGzip = "FKREVIEW_EXPORT_GZIP"

	defaultConfigPath = "fkreview.yaml"
)

// Purpose: Resolve the config path from the flag, the environment or the default.
// Key aspects: An explicit flag wins over FKREVIEW_CONFIG.
// Upstream: main.
// Downstream: None.
func resolveConfigPath(flagValue string) (string, string) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v, "flag"
	}
	if v := strings.TrimSpace(os.Getenv(envConfigPath)); v != "" {
		return v, envConfigPath
	}
	return defaultConfigPath, "default"
}

// Purpose: Decide whether export files are gzip-compressed.
// Key aspects: FKREVIEW_EXPORT_GZIP overrides export.gzip; an invalid value
// is logged and ignored.
// Upstream: run.
// Downstream: strconv.ParseBool.
func exportGzipEnabled(cfg *config.Config) (bool, string) {
	enabled := false
	source := "default"
	if cfg != nil {
		enabled = cfg.Export.Gzip
		source = "config"
	}
	raw := strings.TrimSpace(os.Getenv(envExportGzip))
	if raw == "" {
		return enabled, source
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("Export: ignoring invalid %s=%q; using %s value=%v", envExportGzip, raw, source, enabled)
		return enabled, source
	}
	return parsed, envExportGzip
}

// Purpose: Program entrypoint; loads config, wires logging and runs one
// review session through the pipeline.
// Key aspects: SIGINT/SIGTERM cancel the run; the exit code is non-zero on
// any stage failure.
// Upstream: OS process start.
// Downstream: config.Load, setupLogging, run.
func main() {
	configFlag := flag.String("config", "", "config file or directory (default "+defaultConfigPath+")")
	sessionPath := flag.String("session", "", "review session JSON file (optionally gzip-compressed)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("fkreview %s\n", Version)
		return
	}
	if strings.TrimSpace(*sessionPath) == "" {
		fmt.Fprintln(os.Stderr, "fkreview: -session is required")
		flag.Usage()
		os.Exit(2)
	}

	configPath, configSource := resolveConfigPath(*configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	timestamps := consoleTimestamps(os.Stderr)
	fanout, logErr := setupLogging(cfg.Logging, os.Stderr, timestamps)
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()
	if logErr != nil {
		log.Printf("Logging: file logging disabled: %v", logErr)
	}
	log.Printf("FK Review v%s starting (config from %s via %s)", Version, configPath, configSource)
	cfg.Print()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *sessionPath); err != nil {
		log.Printf("FkReview: %v", err)
		fanout.Close()
		os.Exit(1)
	}
	log.Printf("FkReview: done")
}
