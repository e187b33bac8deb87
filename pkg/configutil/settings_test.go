package configutil

import (
	"errors"
	"testing"
	"time"
)

type sampleSettings struct {
	APIKey           string        `mapstructure:"api_key"`
	SampleRate       int           `mapstructure:"sample_rate"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	VADSignals       *bool         `mapstructure:"vad_signals"`
}

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	var s sampleSettings
	err := DecodeSettings(map[string]any{
		"API-Key":           "k",
		"sampleRate":        "8000",
		"handshake_timeout": "3s",
		"vad_signals":       true,
	}, &s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.APIKey != "k" || s.SampleRate != 8000 || s.HandshakeTimeout != 3*time.Second {
		t.Fatalf("unexpected decode %+v", s)
	}
	if !BoolValue(s.VADSignals, false) {
		t.Fatalf("expected vad_signals true")
	}
	if IntValue(nil, 7) != 7 {
		t.Fatalf("expected fallback")
	}
}

func TestValidateSettings(t *testing.T) {
	schema := Schema{Required: []string{"api_key"}, Optional: []string{"model"}}
	if err := ValidateSettings(map[string]any{"api_key": "k", "model": "m"}, schema); err != nil {
		t.Fatalf("expected valid settings: %v", err)
	}
	err := ValidateSettings(map[string]any{"api_key": " ", "modle": "m"}, schema)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if err.Error() != "missing: api_key; unknown: modle" {
		t.Fatalf("unexpected error %v", err)
	}
	var serr *SettingsError
	if !errors.As(err, &serr) || len(serr.Missing) != 1 || len(serr.Unknown) != 1 {
		t.Fatalf("expected SettingsError, got %T", err)
	}
	if err := ValidateSettings(map[string]any{"x": 1}, Schema{AllowUnknown: true}); err != nil {
		t.Fatalf("unknown keys should be allowed: %v", err)
	}
	if err := RequireString("", "upstream.provider"); err == nil {
		t.Fatalf("expected required error")
	}
}
