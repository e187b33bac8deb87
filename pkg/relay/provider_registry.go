package relay

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/sarvamrelay/pkg/adapters/stt"
	"github.com/harunnryd/sarvamrelay/pkg/configutil"
	"github.com/harunnryd/sarvamrelay/pkg/providers/deepgram"
	"github.com/harunnryd/sarvamrelay/pkg/providers/mock"
	"github.com/harunnryd/sarvamrelay/pkg/providers/sarvam"
)

// STTFactory builds the upstream provider from the relay config.
type STTFactory func(cfg Config) (stt.Provider, error)

type ProviderRegistry struct {
	stt map[string]STTFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{stt: make(map[string]STTFactory)}
}

// DefaultProviderRegistry registers every built-in upstream.
func DefaultProviderRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterSTT("sarvam", buildSarvam)
	r.RegisterSTT("deepgram", buildDeepgram)
	r.RegisterSTT("mock", buildMock)
	return r
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildSTT(cfg Config) (stt.Provider, error) {
	fn := r.stt[strings.ToLower(strings.TrimSpace(cfg.Upstream.Provider))]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s (available: %s)",
			cfg.Upstream.Provider, strings.Join(r.Names(), ", "))
	}
	return fn(cfg)
}

func (r *ProviderRegistry) Names() []string {
	names := make([]string, 0, len(r.stt))
	for name := range r.stt {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var sarvamSchema = configutil.Schema{
	Optional: []string{"api_key", "url", "model", "sample_rate", "encoding", "vad_signals", "high_vad_sensitivity", "handshake_timeout"},
}

type sarvamSettings struct {
	APIKey             string        `mapstructure:"api_key"`
	URL                string        `mapstructure:"url"`
	Model              string        `mapstructure:"model"`
	SampleRate         *int          `mapstructure:"sample_rate"`
	Encoding           string        `mapstructure:"encoding"`
	VADSignals         *bool         `mapstructure:"vad_signals"`
	HighVADSensitivity *bool         `mapstructure:"high_vad_sensitivity"`
	HandshakeTimeout   time.Duration `mapstructure:"handshake_timeout"`
}

func buildSarvam(cfg Config) (stt.Provider, error) {
	if err := configutil.ValidateSettings(cfg.Upstream.Settings, sarvamSchema); err != nil {
		return nil, fmt.Errorf("sarvam settings: %w", err)
	}
	var s sarvamSettings
	if err := configutil.DecodeSettings(cfg.Upstream.Settings, &s); err != nil {
		return nil, fmt.Errorf("sarvam settings: %w", err)
	}
	apiKey := strings.TrimSpace(s.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("SARVAM_API_KEY"))
	}
	if err := configutil.RequireString(apiKey, "upstream.settings.api_key (or SARVAM_API_KEY)"); err != nil {
		return nil, err
	}
	encoding := s.Encoding
	if encoding == "" {
		encoding = cfg.Audio.Encoding
	}
	return sarvam.New(sarvam.Config{
		APIKey:             apiKey,
		URL:                s.URL,
		Model:              s.Model,
		SampleRate:         configutil.IntValue(s.SampleRate, cfg.Audio.SampleRate),
		Encoding:           encoding,
		VADSignals:         configutil.BoolValue(s.VADSignals, false),
		HighVADSensitivity: configutil.BoolValue(s.HighVADSensitivity, false),
		HandshakeTimeout:   s.HandshakeTimeout,
	}), nil
}

var deepgramSchema = configutil.Schema{
	Optional: []string{"api_key", "model", "language", "sample_rate", "encoding", "interim", "vad_events", "utterance_end_ms"},
}

type deepgramSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	SampleRate     *int   `mapstructure:"sample_rate"`
	Encoding       string `mapstructure:"encoding"`
	Interim        *bool  `mapstructure:"interim"`
	VADEvents      *bool  `mapstructure:"vad_events"`
	UtteranceEndMS *int   `mapstructure:"utterance_end_ms"`
}

func buildDeepgram(cfg Config) (stt.Provider, error) {
	if err := configutil.ValidateSettings(cfg.Upstream.Settings, deepgramSchema); err != nil {
		return nil, fmt.Errorf("deepgram settings: %w", err)
	}
	var s deepgramSettings
	if err := configutil.DecodeSettings(cfg.Upstream.Settings, &s); err != nil {
		return nil, fmt.Errorf("deepgram settings: %w", err)
	}
	apiKey := strings.TrimSpace(s.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY"))
	}
	if err := configutil.RequireString(apiKey, "upstream.settings.api_key (or DEEPGRAM_API_KEY)"); err != nil {
		return nil, err
	}
	return deepgram.New(deepgram.Config{
		APIKey:         apiKey,
		Model:          s.Model,
		Language:       s.Language,
		SampleRate:     configutil.IntValue(s.SampleRate, cfg.Audio.SampleRate),
		Encoding:       s.Encoding,
		Interim:        configutil.BoolValue(s.Interim, false),
		VADEvents:      configutil.BoolValue(s.VADEvents, false),
		UtteranceEndMS: configutil.IntValue(s.UtteranceEndMS, 0),
	}), nil
}

var mockSchema = configutil.Schema{Optional: []string{"transcripts"}}

type mockSettings struct {
	Transcripts []string `mapstructure:"transcripts"`
}

// buildMock serves scripted transcripts without network access.
func buildMock(cfg Config) (stt.Provider, error) {
	if err := configutil.ValidateSettings(cfg.Upstream.Settings, mockSchema); err != nil {
		return nil, fmt.Errorf("mock settings: %w", err)
	}
	var s mockSettings
	if err := configutil.DecodeSettings(cfg.Upstream.Settings, &s); err != nil {
		return nil, fmt.Errorf("mock settings: %w", err)
	}
	return mock.NewSTT(mock.STTConfig{Transcripts: s.Transcripts}), nil
}
