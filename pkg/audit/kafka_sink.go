// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"

	"github.com/telekom/sessionboot/pkg/metrics"
)

// KafkaSinkConfig configures a KafkaSink. Events are low volume and the sink
// normally runs behind a QueuedSink, so batching is not configurable.
type KafkaSinkConfig struct {
	Name    string
	Brokers []string
	Topic   string
	TLS     *KafkaTLSConfig
	SASL    *KafkaSASLConfig

	// WriteTimeout bounds a single produce request. Default: 10s.
	WriteTimeout time.Duration
	// CompressionCodec is none, gzip, snappy, lz4 or zstd. Default: snappy.
	CompressionCodec string
}

// KafkaTLSConfig holds PEM encoded material for the broker connection.
type KafkaTLSConfig struct {
	Enabled            bool
	CACert             []byte
	ClientCert         []byte
	ClientKey          []byte
	InsecureSkipVerify bool
}

type KafkaSASLConfig struct {
	// Mechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	Mechanism string
	Username  string
	Password  string
}

func (c KafkaSinkConfig) withDefaults() KafkaSinkConfig {
	if c.Name == "" {
		c.Name = "kafka"
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.CompressionCodec == "" {
		c.CompressionCodec = "snappy"
	}
	return c
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink produces audit events to a topic, keyed by browser session.
type KafkaSink struct {
	name   string
	writer messageWriter
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	cfg = cfg.withDefaults()

	compression, err := parseCompression(cfg.CompressionCodec)
	if err != nil {
		return nil, err
	}
	transport := &kafka.Transport{}
	if cfg.TLS != nil && cfg.TLS.Enabled {
		if transport.TLS, err = buildTLSConfig(cfg.TLS); err != nil {
			return nil, fmt.Errorf("failed to build TLS config: %w", err)
		}
	}
	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		if transport.SASL, err = buildSASLMechanism(cfg.SASL); err != nil {
			return nil, fmt.Errorf("failed to build SASL mechanism: %w", err)
		}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  compression,
		Transport:    transport,
	}
	logger.Info("Kafka audit sink created",
		zap.String("name", cfg.Name),
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("compression", cfg.CompressionCodec))
	return newKafkaSink(cfg.Name, writer, logger), nil
}

func newKafkaSink(name string, writer messageWriter, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{name: name, writer: writer, logger: logger.Named("kafka-audit")}
}

var compressionCodecs = map[string]kafka.Compression{
	"none":   0,
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

func parseCompression(codec string) (kafka.Compression, error) {
	c, ok := compressionCodecs[codec]
	if !ok {
		return 0, fmt.Errorf("unsupported compression codec: %s", codec)
	}
	return c, nil
}

// classifyKafkaError maps a produce error to the error_type metric label.
func classifyKafkaError(err error) string {
	var (
		writeErrs kafka.WriteErrors
		kafkaErr  kafka.Error
		verifyErr *tls.CertificateVerificationError
		authErr   x509.UnknownAuthorityError
		netErr    net.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &writeErrs):
		for _, e := range writeErrs {
			if e != nil {
				return classifyKafkaError(e)
			}
		}
		return "other"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &kafkaErr):
		switch kafkaErr {
		case kafka.SASLAuthenticationFailed, kafka.UnsupportedSASLMechanism, kafka.IllegalSASLState:
			return "auth"
		case kafka.TopicAuthorizationFailed, kafka.ClusterAuthorizationFailed:
			return "authorization"
		case kafka.UnknownTopicOrPartition, kafka.InvalidTopic:
			return "topic"
		}
		if kafkaErr.Temporary() {
			return "unavailable"
		}
		return "broker"
	case errors.As(err, &verifyErr), errors.As(err, &authErr):
		return "tls"
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	default:
		return "other"
	}
}

// Write sends an audit event to Kafka. Events of one browser session share a
// partition key so they stay ordered.
func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		metrics.AuditSinkErrors.WithLabelValues(s.name, "closed").Inc()
		return errors.New("kafka sink is closed")
	}

	value, err := json.Marshal(event)
	if err != nil {
		metrics.AuditSinkErrors.WithLabelValues(s.name, "serialization").Inc()
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	key := event.SessionID
	if key == "" {
		key = event.ID
	}
	headers := []kafka.Header{
		{Key: "event-type", Value: []byte(event.Type)},
		{Key: "severity", Value: []byte(event.Severity)},
	}
	for name, value := range map[string]string{"mode": event.Mode, "actor": event.Actor.Subject} {
		if value != "" {
			headers = append(headers, kafka.Header{Key: name, Value: []byte(value)})
		}
	}

	start := time.Now()
	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value, Headers: headers}); err != nil {
		errorType := classifyKafkaError(err)
		metrics.AuditSinkErrors.WithLabelValues(s.name, errorType).Inc()

		logFields := []zap.Field{
			zap.Error(err),
			zap.String("error_type", errorType),
			zap.Duration("duration", time.Since(start)),
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		}
		switch errorType {
		case "network", "timeout", "unavailable":
			s.logger.Warn("Kafka sink temporarily unavailable", logFields...)
		default:
			s.logger.Error("Failed to write audit event to Kafka", logFields...)
		}
		return fmt.Errorf("failed to write to Kafka (%s): %w", errorType, err)
	}

	metrics.AuditEventsWritten.WithLabelValues(s.name).Inc()
	return nil
}

// Close closes the Kafka writer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	return nil
}

func (s *KafkaSink) Name() string {
	return s.name
}

func buildTLSConfig(cfg *KafkaTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // test brokers only
	}
	if len(cfg.CACert) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.CACert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	if (len(cfg.ClientCert) > 0) != (len(cfg.ClientKey) > 0) {
		return nil, errors.New("client certificate and key must be set together")
	}
	if len(cfg.ClientCert) > 0 {
		cert, err := tls.X509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func buildSASLMechanism(cfg *KafkaSASLConfig) (sasl.Mechanism, error) {
	var algo scram.Algorithm
	switch cfg.Mechanism {
	case "PLAIN":
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	case "SCRAM-SHA-256":
		algo = scram.SHA256
	case "SCRAM-SHA-512":
		algo = scram.SHA512
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.Mechanism)
	}
	return scram.Mechanism(algo, cfg.Username, cfg.Password)
}
