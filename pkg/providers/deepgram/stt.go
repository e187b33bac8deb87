package deepgram

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/harunnryd/sarvamrelay/pkg/adapters/stt"
	"github.com/harunnryd/sarvamrelay/pkg/errorsx"
	"github.com/harunnryd/sarvamrelay/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	SampleRate     int    `mapstructure:"sample_rate"`
	Encoding       string `mapstructure:"encoding"`
	Interim        bool   `mapstructure:"interim"`
	VADEvents      bool   `mapstructure:"vad_events"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
}

// Provider opens Deepgram live transcription streams. Audio arrives as
// base64 mono linear16 and is decoded before streaming.
type Provider struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Provider {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &Provider{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (p *Provider) Name() string { return "deepgram_streaming" }

// Connect opens a live stream. Deepgram fixes the sample rate for the whole
// stream, so the rate declared by the caller replaces the configured one.
func (p *Provider) Connect(ctx context.Context, opts stt.ConnectOptions) (stt.Stream, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := p.streamConfig(opts)
	sctx, cancel := context.WithCancel(ctx)
	s := &stream{
		cfg:    cfg,
		logger: p.logger,
		events: make(chan stt.Event, 256),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	s.pipeReader, s.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := liveOptions(cfg)

	p.logger.Info("deepgram_connecting",
		slog.String("model", cfg.Model),
		slog.Int("sample_rate", cfg.SampleRate))

	dgClient, err := client.NewWSUsingCallback(sctx, p.cfg.APIKey, clientOptions, transcriptOptions, &callback{parent: s})
	if err != nil {
		cancel()
		p.logger.Error("deepgram_client_create_error", slog.String("error", err.Error()))
		return nil, errorsx.Wrap(err, errorsx.ReasonUpstreamConnect)
	}
	s.dgClient = dgClient

	if connected := dgClient.Connect(); !connected {
		cancel()
		p.logger.Error("deepgram_connect_failed")
		return nil, errorsx.Wrap(fmt.Errorf("deepgram connection failed"), errorsx.ReasonUpstreamConnect)
	}
	p.logger.Info("deepgram_connected", slog.String("model", p.cfg.Model))

	go func() {
		err := dgClient.Stream(s.pipeReader)
		if err != nil && sctx.Err() == nil {
			p.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
			s.push(stt.Event{Type: stt.EventError, ErrorMessage: err.Error()})
		}
		// Unblock pending Sends once nothing reads the pipe.
		if err == nil {
			err = stt.ErrStreamClosed
		}
		_ = s.pipeReader.CloseWithError(err)
	}()
	return s, nil
}

// streamConfig applies the per-stream sample rate. The encoding stays as
// configured since Deepgram names encodings differently from Vapi.
func (p *Provider) streamConfig(opts stt.ConnectOptions) Config {
	cfg := p.cfg
	if opts.SampleRate > 0 {
		cfg.SampleRate = opts.SampleRate
	}
	return cfg
}

func liveOptions(cfg Config) *interfaces.LiveTranscriptionOptions {
	opts := &interfaces.LiveTranscriptionOptions{
		Model:          cfg.Model,
		Language:       cfg.Language,
		Encoding:       cfg.Encoding,
		SampleRate:     cfg.SampleRate,
		InterimResults: cfg.Interim,
		VadEvents:      cfg.VADEvents,
		SmartFormat:    true,
	}
	if cfg.UtteranceEndMS > 0 {
		opts.UtteranceEndMs = fmt.Sprintf("%d", cfg.UtteranceEndMS)
	}
	return opts
}

type stream struct {
	cfg        Config
	logger     *slog.Logger
	dgClient   *client.WSCallback
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	events     chan stt.Event
	done       chan struct{}
	cancel     context.CancelFunc
	closeOnce  sync.Once
	metaLogged bool
}

func (s *stream) Send(ctx context.Context, chunk stt.AudioChunk) error {
	select {
	case <-s.done:
		return stt.ErrStreamClosed
	default:
	}
	if chunk.SampleRate > 0 && chunk.SampleRate != s.cfg.SampleRate {
		return errorsx.Wrap(fmt.Errorf("deepgram stream opened at %d Hz, chunk is %d Hz", s.cfg.SampleRate, chunk.SampleRate), errorsx.ReasonUpstreamTransport)
	}
	raw, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return fmt.Errorf("decode audio chunk: %w", err)
	}
	if _, err := s.pipeWriter.Write(raw); err != nil {
		return errorsx.Wrapf(err, errorsx.ReasonUpstreamTransport, "deepgram send")
	}
	return nil
}

func (s *stream) Recv(ctx context.Context) (stt.Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		return stt.Event{}, stt.ErrStreamClosed
	case <-ctx.Done():
		return stt.Event{}, ctx.Err()
	}
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("deepgram_closing")
		close(s.done)
		s.cancel()
		_ = s.pipeWriter.Close()
		if s.dgClient != nil {
			s.dgClient.Stop()
		}
	})
	return nil
}

func (s *stream) push(ev stt.Event) {
	select {
	case <-s.done:
	case s.events <- ev:
	default:
		s.logger.Warn("deepgram_event_channel_full", slog.String("type", string(ev.Type)))
	}
}

type callback struct {
	parent *stream
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.parent.logger.Info("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := mr.Channel.Alternatives[0].Transcript
	if transcript == "" {
		return nil
	}
	if c.parent.cfg.Interim || mr.IsFinal || mr.SpeechFinal {
		c.parent.push(stt.Event{Type: stt.EventData, Transcript: transcript})
	}
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if !c.parent.metaLogged {
		c.parent.metaLogged = true
		c.parent.logger.Info("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	}
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.parent.push(stt.Event{Type: stt.EventSignal, Signal: "START_SPEECH"})
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.parent.push(stt.Event{Type: stt.EventSignal, Signal: "END_SPEECH"})
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.parent.logger.Info("deepgram_connection_closed")
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.parent.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.parent.push(stt.Event{Type: stt.EventError, ErrorMessage: er.ErrMsg, ErrorCode: er.ErrCode})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event", slog.String("data", string(byData)))
	return nil
}

var _ stt.Provider = (*Provider)(nil)
