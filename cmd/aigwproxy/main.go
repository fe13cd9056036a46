// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Command aigwproxy runs the OpenAI Chat Completions to Amazon Bedrock
// Invoke API translation proxy.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aigwproxy/bedrock-openai-proxy/internal/apikeyauth"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/awsauth"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/bedrockclient"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/config"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/gateway"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/jsonlogging"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/metricsobs"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/modelcache"
	"github.com/aigwproxy/bedrock-openai-proxy/internal/version"
)

// cli corresponds to the top-level `aigwproxy` command's flags. Each
// flag defaults to its zero value, which config.Load treats as "not
// provided on the CLI"; a flag explicitly set to its zero value
// therefore does not override the environment, file, or defaults.
type cli struct {
	Version struct{} `cmd:"" help:"Show version."`

	Run struct {
		ConfigPath            string `help:"Path to a YAML configuration file." type:"path"`
		ListenHost            string `help:"Host the proxy listens on."`
		ListenPort            int    `help:"Port the proxy listens on."`
		AWSRegion             string `help:"AWS region Bedrock requests are signed and sent to."`
		APIKey                string `help:"Static bearer API key clients must present."`
		ModelCacheTTLSeconds  int    `help:"Seconds a model-cache entry is considered fresh."`
		RequestTimeoutSeconds int    `help:"Per-request timeout for the chat completions endpoint, in seconds."`
		ModelsTimeoutSeconds  int    `help:"Per-request timeout for the models endpoints, in seconds."`
		LogLevel              string `help:"One of 'debug', 'info', 'warn', 'error'."`
		LogFormat             string `help:"One of 'text', 'json'."`
		MetricsAddr           string `help:"Address the Prometheus metrics server listens on."`
	} `cmd:"" default:"1" help:"Run the proxy."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var c cli
	parser, err := kong.New(&c, kong.Name("aigwproxy"), kong.Description("OpenAI Chat Completions to Amazon Bedrock proxy"))
	if err != nil {
		log.Fatalf("error creating CLI parser: %v", err)
	}
	parsed, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	switch parsed.Command() {
	case "version":
		fmt.Printf("aigwproxy %s (%s)\n", version.Version, version.GitCommitID)
	case "run":
		cliOverlay := config.Config{
			ListenHost:            c.Run.ListenHost,
			ListenPort:            c.Run.ListenPort,
			AWSRegion:             c.Run.AWSRegion,
			APIKey:                c.Run.APIKey,
			ModelCacheTTLSeconds:  c.Run.ModelCacheTTLSeconds,
			RequestTimeoutSeconds: c.Run.RequestTimeoutSeconds,
			ModelsTimeoutSeconds:  c.Run.ModelsTimeoutSeconds,
			LogLevel:              c.Run.LogLevel,
			LogFormat:             c.Run.LogFormat,
			MetricsAddr:           c.Run.MetricsAddr,
		}
		if err := run(ctx, c.Run.ConfigPath, cliOverlay); err != nil {
			log.Fatalf("aigwproxy: %v", err)
		}
	default:
		panic("unreachable")
	}
}

func run(ctx context.Context, configPath string, cliOverlay config.Config) error {
	cfg, err := config.Load(configPath, os.Getenv, cliOverlay)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := jsonlogging.New(os.Stderr, jsonlogging.ParseLevel(cfg.LogLevel), jsonlogging.Format(cfg.LogFormat))
	logger.Info("starting aigwproxy",
		slog.String("version", version.Version),
		slog.String("listen", fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)),
		slog.String("awsRegion", cfg.AWSRegion),
		slog.String("metricsAddr", cfg.MetricsAddr),
	)

	signer, err := awsauth.New(ctx, awsauth.Config{Region: cfg.AWSRegion})
	if err != nil {
		return fmt.Errorf("initializing AWS signer: %w", err)
	}

	client := bedrockclient.New(&http.Client{Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second}, signer, cfg.AWSRegion)
	cache := modelcache.New(client, time.Duration(cfg.ModelCacheTTLSeconds)*time.Second)
	recorder := metricsobs.New()
	keyAuth := apikeyauth.New(cfg.APIKey)

	gw := gateway.New(cache, client, logger, recorder, nowUnix,
		time.Duration(cfg.RequestTimeoutSeconds)*time.Second,
		time.Duration(cfg.ModelsTimeoutSeconds)*time.Second,
	)

	mux := http.NewServeMux()
	gw.Mount(mux, keyAuth)

	mainServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(recorder.Registry(), promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting main server", slog.String("address", mainServer.Addr))
		if err := mainServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("main server: %w", err)
		}
	}()
	go func() {
		logger.Info("starting metrics server", slog.String("address", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = mainServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}

func nowUnix() int64 { return time.Now().Unix() }
