package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Base: BaseConfig{
			AdminID:    "collector-1",
			ListenPort: 5000,
			ListenMode: "v4v6",
			Buffers:    BuffersConfig{RouterMiB: 16},
			Heartbeat:  HeartbeatConfig{IntervalMinutes: 5},
			HTTPListen: ":8080",
			LogLevel:   "info",
			ShutdownTimeoutSeconds: 30,
		},
		Kafka: KafkaConfig{
			Brokers:                []string{"localhost:9092"},
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
}

func TestValidateValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidateNoBrokers(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Brokers = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty brokers")
	}
}

func TestValidateListenPortOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Base.ListenPort = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range listen_port")
	}
}

func TestValidateListenModeInvalid(t *testing.T) {
	cfg := validConfig()
	cfg.Base.ListenMode = "v5"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid listen_mode")
	}
}

func TestValidateCompressionCodecInvalid(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.CompressionCodec = "lz4"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported compression codec")
	}
}

func TestValidateReservedTopicVariableRejected(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Topics.Variables = map[string]string{"router_group": "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for reserved topic variable name")
	}
}

func TestValidateUnknownTopicNameKeyRejected(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Topics.Names = map[string]string{"not_a_real_variable": "foo.{router_group}"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown topic name key")
	}
}

func TestValidateUnknownTemplateVarRejected(t *testing.T) {
	cfg := validConfig()
	cfg.Mapping.Templates = map[string]string{"bmp_stat": "{{attr.nexthop}}"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-templatable route family")
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bgpmond.yaml")
	yamlBody := `
base:
  admin_id: test-collector
  listen_port: 5000
  listen_mode: v4v6
kafka:
  brokers:
    - localhost:9092
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Base.AdminID != "test-collector" {
		t.Fatalf("admin_id = %q", cfg.Base.AdminID)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestBuildTLSConfigDisabled(t *testing.T) {
	k := &KafkaConfig{}
	tlsCfg, err := k.BuildTLSConfig()
	if err != nil {
		t.Fatalf("build tls config: %v", err)
	}
	if tlsCfg != nil {
		t.Fatalf("expected nil tls config when disabled")
	}
}

func TestBuildSASLMechanismDisabled(t *testing.T) {
	k := &KafkaConfig{}
	if mech := k.BuildSASLMechanism(); mech != nil {
		t.Fatalf("expected nil mechanism when disabled")
	}
}
