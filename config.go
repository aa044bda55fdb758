package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP
	HTTPTimeout         time.Duration
	ConnectTimeout      time.Duration
	TLSHandshakeTimeout time.Duration
	UserAgent           string
	AcceptLanguage      string
	MaxRedirects        int
	MaxBodySize         int64
	MaxRetries          int
	RetryDelay          time.Duration

	// Scrape pool
	ScrapeAttempts int
	ScrapeWorkers  int
	ScrapeCeiling  time.Duration
	ScrapeRate     float64

	// DNS verification
	Verify       bool
	DNSWorkers   int
	DNSTimeout   time.Duration
	DNSServers   []string
	DNSPort      int
	DNSCacheSize int
	SanityCheck  bool

	// Run options
	OnlySource    string
	Strict        bool
	SourceMap     bool
	ListNoMX      bool
	WhitelistFile string
	AddFile       string
	OutputDir     string

	// Logging
	LogLevel string
	LogJSON  bool
}

func DefaultConfig() *Config {
	return &Config{
		HTTPTimeout:         30 * time.Second,
		ConnectTimeout:      10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,

		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
		MaxRedirects:   10,
		MaxBodySize:    20 * 1024 * 1024, // 20 MB
		MaxRetries:     150,
		RetryDelay:     1 * time.Second,

		ScrapeAttempts: 80,
		ScrapeWorkers:  10,
		ScrapeCeiling:  5 * time.Minute,
		ScrapeRate:     5.0,

		Verify:       false,
		DNSWorkers:   1,
		DNSTimeout:   10 * time.Second,
		DNSServers:   nil, // resolv.conf, then public fallbacks
		DNSPort:      53,
		DNSCacheSize: 4096,
		SanityCheck:  false,

		OutputDir: ".",

		LogLevel: "info",
		LogJSON:  false,
	}
}

func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must be >= 0, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("RetryDelay must be >= 0, got %s", c.RetryDelay)
	}
	if c.MaxBodySize < 1024 {
		return fmt.Errorf("MaxBodySize must be >= 1024, got %d", c.MaxBodySize)
	}
	if c.ScrapeWorkers < 1 {
		return fmt.Errorf("ScrapeWorkers must be >= 1, got %d", c.ScrapeWorkers)
	}
	if c.ScrapeAttempts < 1 {
		return fmt.Errorf("ScrapeAttempts must be >= 1, got %d", c.ScrapeAttempts)
	}
	if c.ScrapeRate <= 0 {
		return fmt.Errorf("ScrapeRate must be > 0, got %f", c.ScrapeRate)
	}
	if c.DNSWorkers < 1 {
		c.DNSWorkers = 1
	}
	if c.DNSPort < 1 || c.DNSPort > 65535 {
		return fmt.Errorf("DNSPort must be in 1..65535, got %d", c.DNSPort)
	}
	if c.DNSCacheSize < 16 {
		c.DNSCacheSize = 16
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if err := os.MkdirAll(c.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", c.OutputDir, err)
	}
	return nil
}

// Environment overrides sit between DefaultConfig and CLI flags. A .env file
// in the working directory is honored when present.
func (c *Config) ApplyEnv() {
	c.UserAgent = getEnv("DISPOSABLE_USER_AGENT", c.UserAgent)
	c.OutputDir = getEnv("DISPOSABLE_OUTPUT_DIR", c.OutputDir)
	c.LogLevel = getEnv("DISPOSABLE_LOG_LEVEL", c.LogLevel)
	c.LogJSON = getEnvAsBool("DISPOSABLE_LOG_JSON", c.LogJSON)
	c.MaxRetries = getEnvAsInt("DISPOSABLE_MAX_RETRIES", c.MaxRetries)
	c.DNSPort = getEnvAsInt("DISPOSABLE_DNS_PORT", c.DNSPort)
	c.DNSTimeout = getEnvAsDuration("DISPOSABLE_DNS_TIMEOUT", c.DNSTimeout)
	c.HTTPTimeout = getEnvAsDuration("DISPOSABLE_HTTP_TIMEOUT", c.HTTPTimeout)
	if v := getEnv("DISPOSABLE_DNS_SERVERS", ""); v != "" {
		c.DNSServers = splitCommaList(v)
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitCommaList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
