package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `mqtt:
  broker: "tcp://localhost:1883"
  client_id: "coordinator"
  topic_root: "factory"
lines:
  line1:
    agvs: ["AGV_1", "AGV_2"]
    upper_buffer_agv: "AGV_2"
  line2:
    agvs: ["AGV_3", "AGV_4"]
scheduler:
  planning_interval_seconds: 4
  reactive_latency_seconds: 1
dispatch:
  ack_timeout_seconds: 5
orders:
  quota_per_line: 3
metrics:
  prometheus_enabled: true
`

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"client_id", cfg.MQTT.ClientID, "coordinator"},
		{"topic_root", cfg.MQTT.TopicRoot, "factory"},
		{"planning_interval", cfg.Scheduler.PlanningIntervalSeconds, 4.0},
		{"reactive_latency", cfg.Scheduler.ReactiveLatencySeconds, 1.0},
		{"ack_timeout", cfg.Dispatch.AckTimeoutSeconds, 5},
		{"quota", cfg.Orders.QuotaPerLine, 3},
		{"prometheus", cfg.Metrics.PrometheusEnabled, true},
		{"line1_upper", cfg.Lines["line1"].UpperBufferAGV, "AGV_2"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: got %v want %v", c.name, c.got, c.want)
		}
	}
	// Omitted fields get defaults.
	if cfg.Dispatch.MaxRetries != 3 {
		t.Errorf("max_retries default missing: %d", cfg.Dispatch.MaxRetries)
	}
	if cfg.Metrics.PrometheusPort != "2112" {
		t.Errorf("prometheus_port default missing: %s", cfg.Metrics.PrometheusPort)
	}
	// Unset upper-buffer unit defaults to the last AGV of the line.
	if cfg.Lines["line2"].UpperBufferAGV != "AGV_4" {
		t.Errorf("line2 upper buffer default: %s", cfg.Lines["line2"].UpperBufferAGV)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FL_MQTT__CLIENT_ID", "from-env")
	cfg, err := Load(writeConfig(t, "config.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.MQTT.ClientID != "from-env" {
		t.Fatalf("env override ignored: %s", cfg.MQTT.ClientID)
	}
}

func TestLoadRejectsMissingBroker(t *testing.T) {
	if _, err := Load(writeConfig(t, "config.yaml", "mqtt:\n  client_id: x\n")); err == nil {
		t.Fatalf("expected validation error for missing broker")
	}
}

func TestLoadRejectsForeignUpperBufferAGV(t *testing.T) {
	data := `mqtt:
  broker: "tcp://localhost:1883"
lines:
  line1:
    agvs: ["AGV_1", "AGV_2"]
    upper_buffer_agv: "AGV_9"
`
	if _, err := Load(writeConfig(t, "config.yaml", data)); err == nil {
		t.Fatalf("expected validation error for foreign upper buffer unit")
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	if _, err := Load(writeConfig(t, "config.toml", "broker = 1")); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode(strings.NewReader(sampleYAML), "yaml")
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" || cfg.Orders.QuotaPerLine != 3 {
		t.Fatalf("decoded config incomplete: %+v", cfg)
	}
}

func TestDecodeJSON(t *testing.T) {
	data := `{"mqtt":{"broker":"tcp://b:1883"},"lines":{"line1":{"agvs":["AGV_1"]}}}`
	cfg, err := Decode(strings.NewReader(data), "json")
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if cfg.Lines["line1"].UpperBufferAGV != "AGV_1" {
		t.Fatalf("defaults not applied after decode: %+v", cfg.Lines["line1"])
	}
}

func TestDefaultLineTopology(t *testing.T) {
	data := "mqtt:\n  broker: \"tcp://localhost:1883\"\n"
	cfg, err := Load(writeConfig(t, "config.yaml", data))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	line, ok := cfg.Lines["line1"]
	if !ok {
		t.Fatalf("default line missing")
	}
	if len(line.AGVs) != 2 || line.UpperBufferAGV != "AGV_2" {
		t.Fatalf("unexpected default line: %+v", line)
	}
}
