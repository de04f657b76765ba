package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sebas/voicegate/internal/audio"
	"github.com/sebas/voicegate/internal/b2bua"
	"github.com/sebas/voicegate/internal/banner"
	"github.com/sebas/voicegate/internal/config"
	"github.com/sebas/voicegate/internal/events"
	"github.com/sebas/voicegate/internal/logger"
	"github.com/sebas/voicegate/internal/sipua"
)

func main() {
	cfg := config.Load()

	logger.Init(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	bus := events.NewBus()

	engine, err := sipua.NewEngine(cfg, bus)
	if err != nil {
		slog.Error("Failed to create SIP engine", "error", err)
		os.Exit(1)
	}

	sessions := b2bua.NewManager(engine, bus, b2bua.Config{
		Segmenter: audio.SegmenterConfig{
			SilenceThresholdDB:   cfg.SilenceThresholdDB,
			SilenceDuration:      cfg.SilenceDuration,
			MinUtteranceDuration: cfg.MinUtteranceDuration,
			MaxUtteranceDuration: cfg.MaxUtteranceDuration,
		},
		BargeIn: audio.BargeInConfig{
			SilenceThresholdDB: cfg.SilenceThresholdDB,
			Cooldown:           cfg.BargeInCooldown,
			Threshold:          cfg.BargeInThreshold,
		},
		DenoiseEnabled: cfg.DenoiseEnabled,
		DenoiseQuality: audio.ParseGateQuality(cfg.DenoiseQuality),
	})

	run(engine, sessions, cfg)
}

func run(engine *sipua.Engine, sessions *b2bua.Manager, cfg *config.Config) {
	banner.Print("VOICEGATE", []banner.ConfigLine{
		{Label: "SIP Listen", Value: fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.SIPPort)},
		{Label: "Advertise", Value: cfg.AdvertiseAddr},
		{Label: "RTP Ports", Value: fmt.Sprintf("%d-%d", cfg.RTPPortMin, cfg.RTPPortMax)},
		{Label: "Registrar", Value: cfg.Domain},
		{Label: "Log Level", Value: cfg.LogLevel},
	})

	slog.Info("Starting Voicegate",
		"port", cfg.SIPPort,
		"advertise", cfg.AdvertiseAddr,
		"rtp_ports", cfg.RTPPortMax-cfg.RTPPortMin+1,
	)
	logNetworkInterfaces()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	if err := engine.Start(ctx); err != nil {
		slog.Error("Failed to start SIP engine", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)

	sessions.Close()
	engine.Stop()
	cancel()

	time.Sleep(1 * time.Second)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("Metrics available", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("Metrics server stopped", "error", err)
	}
}

func logNetworkInterfaces() {
	interfaces, err := net.Interfaces()
	if err != nil {
		return
	}

	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip, _, err := net.ParseCIDR(addr.String())
			if err != nil {
				continue
			}
			slog.Debug("Network interface", "interface", iface.Name, "ip", ip.String())
		}
	}
}
