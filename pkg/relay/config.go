package relay

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/sarvamrelay/pkg/configutil"
	"github.com/harunnryd/sarvamrelay/pkg/logging"
	"github.com/harunnryd/sarvamrelay/pkg/transports/vapi"
	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides, e.g. SARVAMRELAY_SERVER_SERVER_ADDR.
const EnvPrefix = "SARVAMRELAY"

type Config struct {
	Server   vapi.Config    `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Greeting GreetingConfig `mapstructure:"greeting"`
	Debug    DebugConfig    `mapstructure:"debug"`
	Privacy  PrivacyConfig  `mapstructure:"privacy"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      logging.Config `mapstructure:"log"`
}

type UpstreamConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type AudioConfig struct {
	SampleRate int    `mapstructure:"sample_rate"`
	Encoding   string `mapstructure:"encoding"`
}

type GreetingConfig struct {
	Text          string `mapstructure:"text"`
	AssistantEcho bool   `mapstructure:"assistant_echo"`
	EchoText      string `mapstructure:"echo_text"`
}

type DebugConfig struct {
	AudioDumpPath string `mapstructure:"audio_dump_path"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// MetricsConfig enables per-session event export as JSON lines.
type MetricsConfig struct {
	JSONLPath string `mapstructure:"jsonl_path"`
	// AudioSampleRate is the fraction of audio_in events kept.
	AudioSampleRate float64 `mapstructure:"audio_sample_rate"`
	Buffer          int     `mapstructure:"buffer"`
}

type ShutdownConfig struct {
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.server_addr", ":8000")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.health_path", "/health")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_buffer", 4096)
	v.SetDefault("server.write_buffer", 4096)
	v.SetDefault("upstream.provider", "sarvam")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.encoding", "audio/wav")
	v.SetDefault("greeting.text", "Hello")
	v.SetDefault("greeting.assistant_echo", true)
	v.SetDefault("greeting.echo_text", "Hello")
	v.SetDefault("debug.audio_dump_path", "audio-dump.raw")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("shutdown.drain_timeout", 10*time.Second)
	v.SetDefault("metrics.jsonl_path", "")
	v.SetDefault("metrics.audio_sample_rate", 0.02)
	v.SetDefault("metrics.buffer", 1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.add_source", false)
}

// LoadConfig reads the YAML file at path on top of the defaults. An empty
// path loads the defaults and environment overrides only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.Upstream.Provider, "upstream.provider"); err != nil {
		return err
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if err := configutil.RequireString(c.Audio.Encoding, "audio.encoding"); err != nil {
		return err
	}
	if !strings.HasPrefix(c.Server.WebsocketPath, "/") {
		return fmt.Errorf("server.ws_path must start with /, got %q", c.Server.WebsocketPath)
	}
	if c.Metrics.AudioSampleRate < 0 || c.Metrics.AudioSampleRate > 1 {
		return fmt.Errorf("metrics.audio_sample_rate must be within [0,1], got %v", c.Metrics.AudioSampleRate)
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Upstream.Settings = expandSettings(cfg.Upstream.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
