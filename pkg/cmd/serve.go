// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/sessionboot/pkg/api"
	"github.com/telekom/sessionboot/pkg/audit"
	"github.com/telekom/sessionboot/pkg/config"
	"github.com/telekom/sessionboot/pkg/telemetry"
	"github.com/telekom/sessionboot/pkg/version"
)

func NewServeCommand() *cobra.Command {
	var (
		listenAddress string
		frontendDir   string
		dev           bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the application behind the session bootstrap",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if listenAddress != "" {
				rt.cfg.Server.ListenAddress = listenAddress
			}
			if cmd.Flags().Changed("dev") {
				rt.cfg.Server.Dev = dev
			}
			if frontendDir != "" {
				rt.cfg.Server.FrontendDir = frontendDir
			}
			logger, err := rt.Logger()
			if err != nil {
				return err
			}
			log := logger.Sugar()
			log.With("version", version.Version).Info("Starting sessionboot server")
			if rt.cfg.Server.Dev {
				log.Infow("Serving frontend from disk", "directory", rt.cfg.Server.FrontendDir)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, shutdownTracing, err := telemetry.Init(ctx, telemetry.Options{
				ServiceVersion: version.Version,
				Exporter:       rt.cfg.Telemetry.Exporter,
				Endpoint:       rt.cfg.Telemetry.Endpoint,
				Insecure:       rt.cfg.Telemetry.Insecure,
				SampleRatio:    rt.cfg.Telemetry.SampleRatio,
				Logger:         log,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					log.Warnw("Failed to shut down tracing", "error", err)
				}
			}()

			sink, err := auditSink(*rt.cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := sink.Close(); err != nil {
					log.Warnw("Failed to close audit sink", "error", err)
				}
			}()

			server, err := api.NewServer(api.ServerConfig{Config: *rt.cfg, Log: logger, AuditSink: sink})
			if err != nil {
				return err
			}
			defer server.Close()
			return server.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&listenAddress, "listen-address", "", "Address to listen on (default from config)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Serve the frontend from --frontend-dir instead of the embedded build")
	cmd.Flags().StringVar(&frontendDir, "frontend-dir", "", "Frontend build directory used in dev mode (default from config)")
	return cmd
}

// auditSink writes audit events to the log and, when configured, through a
// queue to Kafka.
func auditSink(cfg config.Config, logger *zap.Logger) (audit.Sink, error) {
	logSink := audit.NewLogSink(logger)
	kafkaCfg, err := cfg.KafkaSinkConfig()
	if err != nil {
		return nil, err
	}
	if kafkaCfg == nil {
		return logSink, nil
	}
	kafkaSink, err := audit.NewKafkaSink(*kafkaCfg, logger)
	if err != nil {
		return nil, err
	}
	queued := audit.NewQueuedSink(kafkaSink, audit.DefaultQueuedSinkConfig(), logger)
	return audit.NewMultiSink(logSink, queued), nil
}
