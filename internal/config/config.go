package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"time"
)

// Config holds the voicegate configuration.
type Config struct {
	// SIP settings
	SIPPort       int
	BindAddr      string // Address to bind for listening
	AdvertiseAddr string // Address to advertise in SIP/SDP (auto-detected if empty)
	LogLevel      string

	// Account identity
	Username string
	Domain   string
	Password string

	// SkipRegister disables registration for direct peer-to-peer testing.
	SkipRegister bool

	// RTP port range (one port per active dialog)
	RTPPortMin int
	RTPPortMax int

	// Voice-activity detection
	SilenceThresholdDB   float64       // Frames below this dBFS level count as silence
	SilenceDuration      time.Duration // Trailing silence that closes an utterance
	MinUtteranceDuration time.Duration // Shorter utterances are discarded
	MaxUtteranceDuration time.Duration // Force-close above this (0 = unlimited)

	// Barge-in (speech interrupting playback)
	BargeInCooldown  time.Duration // Ignore voice this long after playback starts
	BargeInThreshold time.Duration // Accumulated voice that aborts playback

	// Denoising
	DenoiseEnabled bool
	DenoiseQuality string // "low", "medium", "high"

	// MetricsAddr is the Prometheus listen address ("" disables it).
	MetricsAddr string
}

// Default returns a Config with production defaults. Tests and embedders
// can adjust fields before passing it to constructors.
func Default() *Config {
	return &Config{
		SIPPort:              5060,
		BindAddr:             "0.0.0.0",
		LogLevel:             "info",
		Domain:               "localhost",
		RTPPortMin:           10000,
		RTPPortMax:           10100,
		SilenceThresholdDB:   -40,
		SilenceDuration:      500 * time.Millisecond,
		MinUtteranceDuration: 300 * time.Millisecond,
		BargeInCooldown:      700 * time.Millisecond,
		BargeInThreshold:     240 * time.Millisecond,
		DenoiseQuality:       "medium",
		MetricsAddr:          "0.0.0.0:9090",
	}
}

// Load loads configuration from command line flags and environment variables.
func Load() *Config {
	cfg := Default()

	flag.IntVar(&cfg.SIPPort, "port", cfg.SIPPort, "SIP listening port")
	flag.StringVar(&cfg.BindAddr, "bind", cfg.BindAddr, "SIP bind address")
	flag.StringVar(&cfg.AdvertiseAddr, "advertise", "", "Address to advertise in SIP/SDP (auto-detected if not set)")
	flag.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.Username, "user", "", "SIP account username")
	flag.StringVar(&cfg.Domain, "domain", cfg.Domain, "SIP account domain / registrar")
	flag.StringVar(&cfg.Password, "password", "", "SIP account password")
	flag.BoolVar(&cfg.SkipRegister, "skip-register", false, "Skip registration (peer-to-peer testing)")
	flag.IntVar(&cfg.RTPPortMin, "rtp-min", cfg.RTPPortMin, "Lowest RTP port")
	flag.IntVar(&cfg.RTPPortMax, "rtp-max", cfg.RTPPortMax, "Highest RTP port")
	flag.BoolVar(&cfg.DenoiseEnabled, "denoise", false, "Enable noise suppression")
	flag.StringVar(&cfg.DenoiseQuality, "denoise-quality", cfg.DenoiseQuality, "Noise suppression quality (low, medium, high)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus listen address (empty to disable)")

	var silenceDB float64
	flag.Float64Var(&silenceDB, "vad-silence-db", cfg.SilenceThresholdDB, "Silence threshold in dBFS")
	var silenceMs, minUttMs, maxUttMs int
	flag.IntVar(&silenceMs, "vad-silence-ms", int(cfg.SilenceDuration/time.Millisecond), "Trailing silence to close an utterance (ms)")
	flag.IntVar(&minUttMs, "vad-min-ms", int(cfg.MinUtteranceDuration/time.Millisecond), "Minimum utterance duration (ms)")
	flag.IntVar(&maxUttMs, "vad-max-ms", 0, "Maximum utterance duration (ms, 0 = unlimited)")

	flag.Parse()

	cfg.SilenceThresholdDB = silenceDB
	cfg.SilenceDuration = time.Duration(silenceMs) * time.Millisecond
	cfg.MinUtteranceDuration = time.Duration(minUttMs) * time.Millisecond
	cfg.MaxUtteranceDuration = time.Duration(maxUttMs) * time.Millisecond

	applyEnv(cfg)

	// Validate and fall back to auto-detection if invalid
	if cfg.AdvertiseAddr == "" || !isValidAddress(cfg.AdvertiseAddr) {
		cfg.AdvertiseAddr = getPrimaryInterfaceIP()
	}

	return cfg
}

// applyEnv overrides config fields from environment variables if set.
func applyEnv(cfg *Config) {
	if port := os.Getenv("SIP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.SIPPort = p
		}
	}
	if bind := os.Getenv("BIND"); bind != "" {
		cfg.BindAddr = bind
	}
	if advertise := os.Getenv("ADVERTISE"); advertise != "" {
		cfg.AdvertiseAddr = advertise
	}
	if loglevel := os.Getenv("LOGLEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}
	if user := os.Getenv("SIP_USER"); user != "" {
		cfg.Username = user
	}
	if domain := os.Getenv("SIP_DOMAIN"); domain != "" {
		cfg.Domain = domain
	}
	if pass := os.Getenv("SIP_PASSWORD"); pass != "" {
		cfg.Password = pass
	}
	if skip := os.Getenv("SKIP_REGISTER"); skip != "" {
		cfg.SkipRegister = skip == "1" || skip == "true"
	}
	if v := os.Getenv("RTP_PORT_MIN"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.RTPPortMin = p
		}
	}
	if v := os.Getenv("RTP_PORT_MAX"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.RTPPortMax = p
		}
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}

// isValidAddress checks if the address is a valid IP or resolvable hostname.
func isValidAddress(addr string) bool {
	if ip := net.ParseIP(addr); ip != nil {
		return true
	}
	if ips, err := net.LookupIP(addr); err == nil && len(ips) > 0 {
		return true
	}
	return false
}

// getPrimaryInterfaceIP detects the primary network interface IP address.
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
