package relay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.ServerAddr != ":8000" || cfg.Server.WebsocketPath != "/ws" {
		t.Fatalf("unexpected server defaults %+v", cfg.Server)
	}
	if cfg.Upstream.Provider != "sarvam" {
		t.Fatalf("expected sarvam upstream, got %q", cfg.Upstream.Provider)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Encoding != "audio/wav" {
		t.Fatalf("unexpected audio defaults %+v", cfg.Audio)
	}
	if cfg.Greeting.Text != "Hello" || !cfg.Greeting.AssistantEcho || cfg.Greeting.EchoText != "Hello" {
		t.Fatalf("unexpected greeting defaults %+v", cfg.Greeting)
	}
	if cfg.Debug.AudioDumpPath != "audio-dump.raw" {
		t.Fatalf("unexpected dump path %q", cfg.Debug.AudioDumpPath)
	}
	if cfg.Shutdown.DrainTimeout != 10*time.Second {
		t.Fatalf("unexpected drain timeout %s", cfg.Shutdown.DrainTimeout)
	}
	if !cfg.Privacy.RedactPII {
		t.Fatalf("expected redaction on by default")
	}
}

func TestLoadConfigFileAndEnvExpansion(t *testing.T) {
	t.Setenv("RELAY_TEST_KEY", "sk-test")
	t.Setenv("RELAY_TEST_HOST", "relay.example.com")
	path := writeConfig(t, `
server:
  server_addr: ":9001"
  public_url: "https://${RELAY_TEST_HOST}"
upstream:
  provider: sarvam
  settings:
    api_key: "${RELAY_TEST_KEY}"
    vad_signals: true
greeting:
  assistant_echo: false
debug:
  audio_dump_path: ""
shutdown:
  drain_timeout: 3s
log:
  level: debug
  format: json
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ServerAddr != ":9001" || cfg.Server.PublicURL != "https://relay.example.com" {
		t.Fatalf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Upstream.Settings["api_key"] != "sk-test" {
		t.Fatalf("expected expanded api key, got %v", cfg.Upstream.Settings["api_key"])
	}
	if cfg.Greeting.AssistantEcho {
		t.Fatalf("expected echo disabled")
	}
	if cfg.Greeting.Text != "Hello" {
		t.Fatalf("expected default greeting to survive, got %q", cfg.Greeting.Text)
	}
	if cfg.Debug.AudioDumpPath != "" {
		t.Fatalf("expected dump disabled, got %q", cfg.Debug.AudioDumpPath)
	}
	if cfg.Shutdown.DrainTimeout != 3*time.Second {
		t.Fatalf("unexpected drain timeout %s", cfg.Shutdown.DrainTimeout)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SARVAMRELAY_AUDIO_SAMPLE_RATE", "8000")
	t.Setenv("SARVAMRELAY_UPSTREAM_PROVIDER", "mock")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Audio.SampleRate != 8000 || cfg.Upstream.Provider != "mock" {
		t.Fatalf("expected env overrides, got %+v %+v", cfg.Audio, cfg.Upstream)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"upstream.provider": "upstream:\n  provider: \" \"\n",
		"audio.sample_rate": "audio:\n  sample_rate: -1\n",
		"server.ws_path":    "server:\n  ws_path: ws\n",
		"log.format":        "log:\n  format: xml\n",
	}
	for field, body := range cases {
		_, err := LoadConfig(writeConfig(t, body))
		if err == nil || !strings.Contains(err.Error(), field) {
			t.Fatalf("%s: expected validation error, got %v", field, err)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}
