package sarvam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/sarvamrelay/pkg/adapters/stt"
	"github.com/harunnryd/sarvamrelay/pkg/errorsx"
	"github.com/harunnryd/sarvamrelay/pkg/logging"
)

const (
	DefaultURL        = "wss://api.sarvam.ai/speech-to-text-translate/ws"
	DefaultModel      = "saaras:v2.5"
	DefaultSampleRate = 16000
	DefaultEncoding   = "audio/wav"

	apiKeyHeader = "Api-Subscription-Key"
)

type Config struct {
	APIKey             string        `mapstructure:"api_key"`
	URL                string        `mapstructure:"url"`
	Model              string        `mapstructure:"model"`
	SampleRate         int           `mapstructure:"sample_rate"`
	Encoding           string        `mapstructure:"encoding"`
	VADSignals         bool          `mapstructure:"vad_signals"`
	HighVADSensitivity bool          `mapstructure:"high_vad_sensitivity"`
	HandshakeTimeout   time.Duration `mapstructure:"handshake_timeout"`
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Encoding == "" {
		c.Encoding = DefaultEncoding
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 45 * time.Second
	}
	return c
}

// Provider dials the Sarvam speech-to-text-translate streaming endpoint.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

func New(cfg Config) *Provider {
	cfg = cfg.withDefaults()
	return &Provider{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logging.NewComponentLogger(slog.Default(), "sarvam_stt"),
	}
}

func (p *Provider) Name() string { return "sarvam_streaming" }

// Connect dials Sarvam. The sample rate travels with every audio chunk, so
// opts only affects logging.
func (p *Provider) Connect(ctx context.Context, opts stt.ConnectOptions) (stt.Stream, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	target, err := p.endpoint()
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonUpstreamConnect)
	}
	header := http.Header{}
	if p.cfg.APIKey != "" {
		header.Set(apiKeyHeader, p.cfg.APIKey)
	}

	rate := opts.SampleRate
	if rate <= 0 {
		rate = p.cfg.SampleRate
	}
	p.logger.Info("sarvam_connecting",
		slog.String("model", p.cfg.Model),
		slog.Int("sample_rate", rate))

	conn, resp, err := p.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("sarvam handshake status %d: %w", resp.StatusCode, err)
		}
		p.logger.Error("sarvam_connect_failed", slog.String("error", err.Error()))
		return nil, errorsx.Wrap(err, errorsx.ReasonUpstreamConnect)
	}
	p.logger.Info("sarvam_connected", slog.String("model", p.cfg.Model))
	return &stream{conn: conn, cfg: p.cfg, logger: p.logger}, nil
}

func (p *Provider) endpoint() (string, error) {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse sarvam url: %w", err)
	}
	q := u.Query()
	q.Set("model", p.cfg.Model)
	if p.cfg.VADSignals {
		q.Set("vad_signals", "true")
	}
	if p.cfg.HighVADSensitivity {
		q.Set("high_vad_sensitivity", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type stream struct {
	conn      *websocket.Conn
	cfg       Config
	logger    *slog.Logger
	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

type audioMessage struct {
	Audio audioData `json:"audio"`
}

type audioData struct {
	Data       string `json:"data"`
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
}

type response struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type transcriptData struct {
	RequestID    string `json:"request_id"`
	Transcript   string `json:"transcript"`
	LanguageCode string `json:"language_code"`
}

type errorData struct {
	Error string          `json:"error"`
	Code  json.RawMessage `json:"code"`
}

type signalData struct {
	SignalType string `json:"signal_type"`
	EventType  string `json:"event_type"`
}

func (s *stream) Send(ctx context.Context, chunk stt.AudioChunk) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if s.closed.Load() {
		return stt.ErrStreamClosed
	}
	msg := audioMessage{Audio: audioData{
		Data:       chunk.Data,
		SampleRate: chunk.SampleRate,
		Encoding:   chunk.Encoding,
	}}
	if msg.Audio.SampleRate <= 0 {
		msg.Audio.SampleRate = s.cfg.SampleRate
	}
	if msg.Audio.Encoding == "" {
		msg.Audio.Encoding = s.cfg.Encoding
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		if s.closed.Load() {
			return stt.ErrStreamClosed
		}
		return errorsx.Wrapf(err, errorsx.ReasonUpstreamTransport, "sarvam send")
	}
	return nil
}

func (s *stream) Recv(ctx context.Context) (stt.Event, error) {
	if ctx != nil && ctx.Err() != nil {
		return stt.Event{}, ctx.Err()
	}
	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		if s.closed.Load() {
			return stt.Event{}, stt.ErrStreamClosed
		}
		return stt.Event{}, errorsx.Wrapf(err, errorsx.ReasonUpstreamTransport, "sarvam recv")
	}
	return decodeEvent(raw)
}

func decodeEvent(raw []byte) (stt.Event, error) {
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return stt.Event{}, errorsx.Wrapf(err, errorsx.ReasonUpstreamTransport, "decode sarvam response")
	}
	ev := stt.Event{Type: stt.EventType(resp.Type)}
	switch ev.Type {
	case stt.EventData:
		var d transcriptData
		if err := json.Unmarshal(resp.Data, &d); err != nil {
			return stt.Event{}, errorsx.Wrapf(err, errorsx.ReasonUpstreamTransport, "decode sarvam transcript")
		}
		ev.Transcript = d.Transcript
		ev.LanguageCode = d.LanguageCode
		ev.RequestID = d.RequestID
	case stt.EventError:
		var d errorData
		if len(resp.Data) > 0 {
			_ = json.Unmarshal(resp.Data, &d)
		}
		ev.ErrorMessage = d.Error
		ev.ErrorCode = codeString(d.Code)
	case stt.EventSignal:
		var d signalData
		if len(resp.Data) > 0 {
			_ = json.Unmarshal(resp.Data, &d)
		}
		ev.Signal = d.SignalType
		if ev.Signal == "" {
			ev.Signal = d.EventType
		}
	}
	return ev, nil
}

// codeString accepts both numeric and string error codes.
func codeString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strconv.Quote(string(raw))
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		// WriteControl may run concurrently with a blocked Send.
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
		s.logger.Info("sarvam_connection_closed")
	})
	return s.closeErr
}

var _ stt.Provider = (*Provider)(nil)
