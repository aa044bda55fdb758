package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

// parseFlags layers CLI flags over the current config values, so precedence
// is defaults, then environment, then flags.
func parseFlags(cfg *Config) {
	var (
		verbose    bool
		debug      bool
		dnsServers string
	)

	flag.BoolVar(&cfg.Verify, "verify", cfg.Verify, "resolve every domain and split the lists by mail capability")
	flag.BoolVar(&cfg.SanityCheck, "check-whitelist", cfg.SanityCheck, "advisory DNS check of whitelist entries")
	flag.BoolVar(&cfg.SourceMap, "source-map", cfg.SourceMap, "write a per-source attribution file")
	flag.BoolVar(&cfg.ListNoMX, "list-no-mx", cfg.ListNoMX, "also write the not-mail-capable domain list")
	flag.StringVar(&cfg.OnlySource, "source", cfg.OnlySource, "process a single source by name")
	flag.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "retry cap for timeout-class fetch errors")
	flag.IntVar(&cfg.DNSWorkers, "dns-workers", cfg.DNSWorkers, "concurrent DNS verification workers")
	flag.DurationVar(&cfg.DNSTimeout, "dns-timeout", cfg.DNSTimeout, "per-exchange DNS timeout")
	flag.StringVar(&dnsServers, "dns-servers", "", "comma-separated nameservers (default: resolv.conf)")
	flag.IntVar(&cfg.DNSPort, "dns-port", cfg.DNSPort, "nameserver port")
	flag.StringVar(&cfg.WhitelistFile, "whitelist", cfg.WhitelistFile, "extra whitelist file, one domain per line")
	flag.StringVar(&cfg.AddFile, "add-file", cfg.AddFile, "extra blacklist file, one domain per line")
	flag.StringVar(&cfg.OutputDir, "out", cfg.OutputDir, "directory for generated lists")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "log as JSON")
	flag.BoolVar(&verbose, "verbose", false, "debug-level logging")
	flag.BoolVar(&debug, "debug", false, "debug-level logging plus fail-fast on skipped sources")
	flag.Parse()

	if dnsServers != "" {
		cfg.DNSServers = splitCommaList(dnsServers)
	}
	if verbose || debug {
		cfg.LogLevel = "debug"
	}
	if debug {
		cfg.Strict = true
	}
}

func main() {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	parseFlags(cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogJSON)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.WithField("signal", sig.String()).Info("shutdown signal received")
		cancel()
	}()

	pipeline, err := NewPipeline(cfg, logger)
	if err != nil {
		logger.WithField("error", err.Error()).Fatal("initialization failed")
	}

	started := time.Now()
	if err := pipeline.Run(ctx); err != nil {
		logger.WithField("error", err.Error()).Fatal("run failed")
	}
	logger.WithField("elapsed", time.Since(started).Round(time.Millisecond).String()).Info("done")
}
