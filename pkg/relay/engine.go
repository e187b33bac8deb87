package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/harunnryd/sarvamrelay/pkg/bridge"
	"github.com/harunnryd/sarvamrelay/pkg/logging"
	"github.com/harunnryd/sarvamrelay/pkg/metrics"
	"github.com/harunnryd/sarvamrelay/pkg/redact"
	"github.com/harunnryd/sarvamrelay/pkg/runner"
	"github.com/harunnryd/sarvamrelay/pkg/transports"
	"github.com/harunnryd/sarvamrelay/pkg/transports/vapi"
)

const bannerTitle = "SARVAM RELAY"

// Engine wires the configured upstream provider to the Vapi transport and
// owns the process lifecycle.
type Engine struct {
	cfg       Config
	transport *vapi.Transport
	runner    *runner.LifecycleRunner
	logger    *slog.Logger
	observer  *metrics.AsyncObserver
	sink      *metrics.JSONLObserver
	ctx       context.Context
	cancel    context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Logger    *slog.Logger
	// Banner receives the startup banner. Nil disables it.
	Banner io.Writer
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	logger := logging.NewComponentLogger(base, "engine")
	redact.SetEnabled(cfg.Privacy.RedactPII)

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviderRegistry()
	}
	provider, err := providers.BuildSTT(cfg)
	if err != nil {
		return nil, fmt.Errorf("build upstream: %w", err)
	}

	logger.Info("relay_init",
		slog.String("upstream", provider.Name()),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.String("encoding", cfg.Audio.Encoding),
		slog.Bool("assistant_echo", cfg.Greeting.AssistantEcho),
		slog.String("audio_dump", cfg.Debug.AudioDumpPath),
		slog.Bool("redact_pii", cfg.Privacy.RedactPII))

	observer, sink, err := buildObserver(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	var sessionObs metrics.Observer
	if observer != nil {
		sessionObs = observer
	}

	transport := vapi.New(cfg.Server, bridge.Options{
		Provider:      provider,
		SampleRate:    cfg.Audio.SampleRate,
		Encoding:      cfg.Audio.Encoding,
		DumpPath:      cfg.Debug.AudioDumpPath,
		Greeting:      cfg.Greeting.Text,
		AssistantEcho: cfg.Greeting.AssistantEcho,
		EchoText:      cfg.Greeting.EchoText,
		Logger:        base,
		Observer:      sessionObs,
	})

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		observer:  observer,
		sink:      sink,
		ctx:       ctx,
		cancel:    cancel,
	}
	e.runner = runner.NewLifecycleRunner(runner.Options{
		Drainer:      transport,
		DrainTimeout: cfg.Shutdown.DrainTimeout,
		Title:        bannerTitle,
		Banner:       opts.Banner,
		Hooks: runner.Hooks{
			OnStart: e.start,
			OnStop:  e.logShutdown,
		},
	})
	return e, nil
}

// Run serves until ctx is cancelled or Stop is called, then drains open
// connections.
func (e *Engine) Run(ctx context.Context) error {
	return e.runner.Run(ctx)
}

func (e *Engine) Stop() error {
	e.cancel()
	return e.runner.Stop()
}

// Transport exposes the caller-facing server, mainly for its bound address.
func (e *Engine) Transport() *vapi.Transport { return e.transport }

func (e *Engine) State() runner.State { return e.runner.State() }

func (e *Engine) start() error {
	if err := e.transport.Start(e.ctx); err != nil {
		return err
	}
	attrs := []any{slog.String("transport", e.transport.Name())}
	var rr transports.ReadyReporter = e.transport
	for k, v := range rr.ReadyFields() {
		attrs = append(attrs, slog.Any(k, v))
	}
	if addr := e.transport.Addr(); addr != nil {
		attrs = append(attrs, slog.String("bound_addr", addr.String()))
	}
	e.logger.Info("relay_ready", attrs...)
	return nil
}

func (e *Engine) logShutdown() {
	e.cancel()
	attrs := []any{
		slog.Int("goroutines", runtime.NumGoroutine()),
		slog.Int("active_connections", e.transport.ActiveConnections()),
	}
	if e.observer != nil {
		if err := e.observer.Close(); err != nil {
			e.logger.Warn("metrics_close_failed", slog.String("error", err.Error()))
		}
		if err := e.sink.Close(); err != nil {
			e.logger.Warn("metrics_close_failed", slog.String("error", err.Error()))
		}
		attrs = append(attrs, slog.Int64("metrics_dropped", e.observer.Dropped()))
	}
	e.logger.Info("shutdown", attrs...)
}

// buildObserver returns nils when metrics export is disabled.
func buildObserver(cfg MetricsConfig) (*metrics.AsyncObserver, *metrics.JSONLObserver, error) {
	if cfg.JSONLPath == "" {
		return nil, nil, nil
	}
	sink, err := metrics.OpenJSONL(cfg.JSONLPath)
	if err != nil {
		return nil, nil, err
	}
	sampled := metrics.NewSamplingObserver(sink, cfg.AudioSampleRate, metrics.EventAudioIn)
	return metrics.NewAsyncObserver(sampled, cfg.Buffer), sink, nil
}
