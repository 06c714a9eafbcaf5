// Package config loads and validates the collector's YAML configuration
// (base/debug/kafka/mapping sections) via koanf, overlaying environment
// variables on top of the file.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

type Config struct {
	Base    BaseConfig    `koanf:"base"`
	Debug   DebugConfig   `koanf:"debug"`
	Kafka   KafkaConfig   `koanf:"kafka"`
	Mapping MappingConfig `koanf:"mapping"`
}

type BaseConfig struct {
	AdminID                string          `koanf:"admin_id"`
	ListenPort             int             `koanf:"listen_port"`
	ListenMode             string          `koanf:"listen_mode"`
	Buffers                BuffersConfig   `koanf:"buffers"`
	Heartbeat              HeartbeatConfig `koanf:"heartbeat"`
	HTTPListen             string          `koanf:"http_listen"`
	LogLevel               string          `koanf:"log_level"`
	ShutdownTimeoutSeconds int             `koanf:"shutdown_timeout_seconds"`
}

type BuffersConfig struct {
	RouterMiB int `koanf:"router"`
}

type HeartbeatConfig struct {
	IntervalMinutes int `koanf:"interval"`
}

type DebugConfig struct {
	General bool `koanf:"general"`
	BMP     bool `koanf:"bmp"`
	BGP     bool `koanf:"bgp"`
	MsgBus  bool `koanf:"msgbus"`
}

type KafkaConfig struct {
	Brokers                []string          `koanf:"brokers"`
	ClientID               string            `koanf:"client_id"`
	TLS                    TLSConfig         `koanf:"tls"`
	SASL                   SASLConfig        `koanf:"sasl"`
	MessageMaxBytes        int               `koanf:"message.max.bytes"`
	ReceiveMessageMaxBytes int               `koanf:"receive.message.max.bytes"`
	SessionTimeoutMs       int               `koanf:"session.timeout.ms"`
	SocketTimeoutMs        int               `koanf:"socket.timeout.ms"`
	QueueBufferingMaxMsgs  int               `koanf:"queue.buffering.max.messages"`
	QueueBufferingMaxMs    int               `koanf:"queue.buffering.max.ms"`
	MessageSendMaxRetries  int               `koanf:"message.send.max.retries"`
	RetryBackoffMs         int               `koanf:"retry.backoff.ms"`
	CompressionCodec       string            `koanf:"compression.codec"`
	Topics                 TopicsConfig      `koanf:"topics"`
}

type TopicsConfig struct {
	Variables map[string]string `koanf:"variables"`
	Names     map[string]string `koanf:"names"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

type MappingConfig struct {
	Groups    GroupsConfig      `koanf:"groups"`
	Templates map[string]string `koanf:"templates"`
}

type GroupsConfig struct {
	RouterGroup []GroupRule `koanf:"router_group"`
	PeerGroup   []PeerGroupRule `koanf:"peer_group"`
}

// GroupRule is a router-group matching rule: hostname regexps then CIDR
// prefix ranges, first match wins (§4.F).
type GroupRule struct {
	Name           string   `koanf:"name"`
	RegexpHostname []string `koanf:"regexp_hostname"`
	PrefixRange    []string `koanf:"prefix_range"`
}

// PeerGroupRule extends GroupRule with an ASN list, evaluated last.
type PeerGroupRule struct {
	GroupRule `koanf:",squash"`
	ASN       []uint32 `koanf:"asn"`
}

// reservedTopicVars names may not be overridden by kafka.topics.variables.
var reservedTopicVars = map[string]bool{
	"router_group": true,
	"peer_group":   true,
}

// knownTopicVars are the internal variable names kafka.topics.names may key.
var knownTopicVars = map[string]bool{
	"router":            true,
	"peer":              true,
	"unicast_prefix":    true,
	"l3vpn":             true,
	"evpn":              true,
	"ls_node":           true,
	"ls_link":           true,
	"ls_prefix":         true,
	"bmp_stat":          true,
	"bmp_raw":           true,
	"collector":         true,
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("BGPMOND_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "BGPMOND_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Base: BaseConfig{
			AdminID:    "hostname",
			ListenPort: 5000,
			ListenMode: "v4v6",
			Buffers:    BuffersConfig{RouterMiB: 16},
			Heartbeat:  HeartbeatConfig{IntervalMinutes: 5},
			HTTPListen: ":8080",
			LogLevel:   "info",
			ShutdownTimeoutSeconds: 30,
		},
		Kafka: KafkaConfig{
			ClientID:               "bgpmond",
			MessageMaxBytes:        1000000,
			ReceiveMessageMaxBytes: 1000000,
			SessionTimeoutMs:       30000,
			SocketTimeoutMs:        60000,
			QueueBufferingMaxMsgs:  100000,
			QueueBufferingMaxMs:    1000,
			MessageSendMaxRetries:  10,
			RetryBackoffMs:         250,
			CompressionCodec:       "none",
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	if cfg.Base.AdminID == "hostname" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolving base.admin_id=hostname: %w", err)
		}
		cfg.Base.AdminID = hostname
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers is required")
	}
	if c.Base.ListenPort < 25 || c.Base.ListenPort > 65535 {
		return fmt.Errorf("config: base.listen_port must be in [25,65535] (got %d)", c.Base.ListenPort)
	}
	switch c.Base.ListenMode {
	case "v4", "v6", "v4v6":
	default:
		return fmt.Errorf("config: base.listen_mode must be one of v4, v6, v4v6 (got %q)", c.Base.ListenMode)
	}
	if c.Base.Buffers.RouterMiB < 2 || c.Base.Buffers.RouterMiB > 384 {
		return fmt.Errorf("config: base.buffers.router must be in [2,384] MiB (got %d)", c.Base.Buffers.RouterMiB)
	}
	if c.Base.Heartbeat.IntervalMinutes < 1 || c.Base.Heartbeat.IntervalMinutes > 1440 {
		return fmt.Errorf("config: base.heartbeat.interval must be in [1,1440] minutes (got %d)", c.Base.Heartbeat.IntervalMinutes)
	}
	if c.Base.ShutdownTimeoutSeconds < 1 || c.Base.ShutdownTimeoutSeconds > 600 {
		return fmt.Errorf("config: base.shutdown_timeout_seconds must be in [1,600] (got %d)", c.Base.ShutdownTimeoutSeconds)
	}
	switch c.Base.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: base.log_level must be one of debug, info, warn, error (got %q)", c.Base.LogLevel)
	}
	if err := checkRange("kafka.message.max.bytes", c.Kafka.MessageMaxBytes, 1000, 1000000000); err != nil {
		return err
	}
	if err := checkRange("kafka.receive.message.max.bytes", c.Kafka.ReceiveMessageMaxBytes, 1000, 1000000000); err != nil {
		return err
	}
	if err := checkRange("kafka.session.timeout.ms", c.Kafka.SessionTimeoutMs, 1, 3600000); err != nil {
		return err
	}
	if err := checkRange("kafka.socket.timeout.ms", c.Kafka.SocketTimeoutMs, 10, 300000); err != nil {
		return err
	}
	if err := checkRange("kafka.queue.buffering.max.messages", c.Kafka.QueueBufferingMaxMsgs, 1, 10000000); err != nil {
		return err
	}
	if err := checkRange("kafka.queue.buffering.max.ms", c.Kafka.QueueBufferingMaxMs, 1, 900000); err != nil {
		return err
	}
	if err := checkRange("kafka.message.send.max.retries", c.Kafka.MessageSendMaxRetries, 0, 10000000); err != nil {
		return err
	}
	if err := checkRange("kafka.retry.backoff.ms", c.Kafka.RetryBackoffMs, 1, 300000); err != nil {
		return err
	}
	switch c.Kafka.CompressionCodec {
	case "none", "snappy", "gzip":
	default:
		return fmt.Errorf("config: kafka.compression.codec must be one of none, snappy, gzip (got %q)", c.Kafka.CompressionCodec)
	}
	for name := range c.Kafka.Topics.Variables {
		if reservedTopicVars[name] {
			return fmt.Errorf("config: kafka.topics.variables.%s is reserved", name)
		}
	}
	for key := range c.Kafka.Topics.Names {
		if !knownTopicVars[key] {
			return fmt.Errorf("config: kafka.topics.names.%s is not a known internal variable name", key)
		}
	}
	for key := range c.Mapping.Templates {
		if !routeTemplateVars[key] {
			return fmt.Errorf("config: mapping.templates.%s is not a templatable route family", key)
		}
	}
	return nil
}

// routeTemplateVars are the topic variables whose output row format can
// be overridden by mapping.templates; other topic vars use a fixed
// internal row format.
var routeTemplateVars = map[string]bool{
	"unicast_prefix": true,
	"l3vpn":          true,
	"evpn":           true,
}

func checkRange(key string, v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("config: %s must be in [%d,%d] (got %d)", key, min, max, v)
	}
	return nil
}

// BuildTLSConfig creates a *tls.Config from the Kafka TLS settings.
// Returns nil if TLS is disabled.
func (k *KafkaConfig) BuildTLSConfig() (*tls.Config, error) {
	if !k.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if k.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(k.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if k.TLS.CertFile != "" && k.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(k.TLS.CertFile, k.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL
// settings. Returns nil if SASL is disabled.
func (k *KafkaConfig) BuildSASLMechanism() sasl.Mechanism {
	if !k.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(k.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
