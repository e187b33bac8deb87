package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/sarvamrelay/pkg/adapters/stt"
	"github.com/harunnryd/sarvamrelay/pkg/audio"
	"github.com/harunnryd/sarvamrelay/pkg/errorsx"
	"github.com/harunnryd/sarvamrelay/pkg/frames"
	"github.com/harunnryd/sarvamrelay/pkg/logging"
	"github.com/harunnryd/sarvamrelay/pkg/metrics"
	"github.com/harunnryd/sarvamrelay/pkg/redact"
)

const DefaultGreeting = "Hello"

type State int32

const (
	StateUninitialized State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Options configure one Session.
type Options struct {
	Provider stt.Provider
	Caller   Caller

	// SampleRate and Encoding are attached to every upstream chunk.
	SampleRate int
	Encoding   string

	// DumpPath receives the raw stereo audio of the session. The file is
	// truncated on start. Empty disables the dump.
	DumpPath string

	// Greeting is sent on the assistant channel before the first audio
	// frame is forwarded. Empty disables it.
	Greeting string

	// AssistantEcho sends EchoText on the assistant channel after every
	// customer transcript.
	AssistantEcho bool
	EchoText      string

	Logger *slog.Logger
	// Observer receives session lifecycle and traffic events.
	Observer metrics.Observer

	// onFailure is called once when the upstream side ends the session.
	onFailure func(error)
}

// Session bridges one caller connection to one upstream stream.
type Session struct {
	id     string
	opts   Options
	caller Caller
	logger *slog.Logger
	obs    metrics.Observer

	mu     sync.Mutex
	state  State
	stream stt.Stream
	dump   *os.File
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	started bool
	greeted atomic.Bool
	closed  atomic.Bool
	ended   atomic.Bool

	startedAt   time.Time
	audioFrames atomic.Int64
	audioBytes  atomic.Int64
	transcripts atomic.Int64
}

func NewSession(opts Options) *Session {
	if opts.EchoText == "" {
		opts.EchoText = DefaultGreeting
	}
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		opts:   opts,
		caller: SerializeCaller(opts.Caller),
		logger: logging.NewComponentLogger(base, "bridge").With(slog.String("session_id", id)),
		obs:    metrics.OrNoop(opts.Observer),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that ended the session from the upstream side, or
// nil while the session is healthy or after a caller-initiated close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start opens the upstream stream and the debug dump, then starts the
// receive loop. A session starts at most once.
func (s *Session) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateActive:
		return errorsx.Wrap(ErrSessionAlreadyStarted, errorsx.ReasonSessionAlreadyStarted)
	case StateClosed:
		return errorsx.Wrap(ErrSessionClosed, errorsx.ReasonSessionClosed)
	}
	if s.opts.Provider == nil {
		return errorsx.Wrap(fmt.Errorf("%w: no provider configured", ErrUpstreamUnavailable), errorsx.ReasonUpstreamUnavailable)
	}

	s.logger.Info("session_starting", slog.String("provider", s.opts.Provider.Name()))
	connectStart := time.Now()
	stream, err := s.opts.Provider.Connect(ctx, stt.ConnectOptions{
		SampleRate: s.opts.SampleRate,
		Encoding:   s.opts.Encoding,
	})
	s.record(metrics.EventUpstreamConnect, float64(time.Since(connectStart).Milliseconds()), map[string]any{
		"provider": s.opts.Provider.Name(),
		"ok":       err == nil,
	})
	if err != nil {
		s.logger.Error("upstream_connect_failed", slog.String("error", err.Error()))
		return errorsx.Wrapf(err, errorsx.ReasonUpstreamConnect, "connect upstream")
	}
	s.stream = stream
	s.dump = s.openDump()

	recvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateActive
	s.started = true
	s.startedAt = time.Now()
	s.record(metrics.EventSessionStart, float64(s.opts.SampleRate), map[string]any{
		"encoding": s.opts.Encoding,
	})
	go s.receiveLoop(recvCtx, stream, s.done)

	s.logger.Info("session_started",
		slog.Int("sample_rate", s.opts.SampleRate),
		slog.Bool("audio_dump", s.dump != nil))
	return nil
}

func (s *Session) openDump() *os.File {
	if s.opts.DumpPath == "" {
		return nil
	}
	f, err := os.Create(s.opts.DumpPath)
	if err != nil {
		s.logger.Warn("audio_dump_open_failed",
			slog.String("path", s.opts.DumpPath),
			slog.String("error", err.Error()),
			slog.String("reason_code", string(errorsx.ReasonDebugDump)))
		return nil
	}
	return f
}

// Greet runs the greeting-injection step: the first call on an active
// session sends the assistant greeting, later calls do nothing.
func (s *Session) Greet(ctx context.Context) error {
	switch s.State() {
	case StateUninitialized:
		return errorsx.Wrap(ErrSessionNotStarted, errorsx.ReasonSessionNotStarted)
	case StateClosed:
		return errorsx.Wrap(ErrSessionClosed, errorsx.ReasonSessionClosed)
	}
	if !s.greeted.CompareAndSwap(false, true) {
		return nil
	}
	if s.opts.Greeting == "" {
		return nil
	}
	s.logger.Debug("greeting_injected")
	return s.emit(frames.NewTranscript(s.opts.Greeting, frames.ChannelAssistant))
}

// Write forwards one interleaved stereo frame: the raw bytes go to the
// debug dump and the caller channel goes upstream.
func (s *Session) Write(ctx context.Context, frame []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.state != StateActive || s.stream == nil {
		state, cause := s.state, s.err
		s.mu.Unlock()
		if cause != nil {
			return errorsx.Wrap(fmt.Errorf("%w: %v", ErrUpstreamUnavailable, cause), errorsx.ReasonUpstreamUnavailable)
		}
		return errorsx.Wrap(fmt.Errorf("%w: session %s", ErrUpstreamUnavailable, state), errorsx.ReasonUpstreamUnavailable)
	}
	stream := s.stream
	if s.dump != nil {
		if _, err := s.dump.Write(frame); err != nil {
			s.logger.Warn("audio_dump_write_failed",
				slog.String("error", err.Error()),
				slog.String("reason_code", string(errorsx.ReasonDebugDump)))
		}
	}
	s.mu.Unlock()

	s.audioFrames.Add(1)
	s.audioBytes.Add(int64(len(frame)))
	s.record(metrics.EventAudioIn, float64(len(frame)), nil)

	mono := audio.LeftChannel(frame)
	chunk := stt.AudioChunk{
		Data:       base64.StdEncoding.EncodeToString(mono),
		SampleRate: s.opts.SampleRate,
		Encoding:   s.opts.Encoding,
	}
	if err := stream.Send(ctx, chunk); err != nil {
		if errors.Is(err, stt.ErrStreamClosed) {
			return errorsx.Wrap(fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err), errorsx.ReasonUpstreamUnavailable)
		}
		return errorsx.Wrapf(err, errorsx.ReasonUpstreamTransport, "send audio")
	}
	return nil
}

// Close releases the dump and the upstream stream and waits for the receive
// loop to exit. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	prev, started := s.state, s.started
	s.state = StateClosed
	s.closed.Store(true)
	stream, dump, cancel, done := s.stream, s.dump, s.cancel, s.done
	s.stream, s.dump = nil, nil
	s.mu.Unlock()

	if dump != nil {
		if err := dump.Close(); err != nil {
			s.logger.Warn("audio_dump_close_failed", slog.String("error", err.Error()))
		}
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			s.logger.Warn("upstream_close_failed", slog.String("error", err.Error()))
		}
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if !s.ended.CompareAndSwap(false, true) {
		return nil
	}
	if started {
		s.record(metrics.EventSessionEnd, time.Since(s.startedAt).Seconds(), map[string]any{
			"audio_frames": s.audioFrames.Load(),
			"audio_bytes":  s.audioBytes.Load(),
			"transcripts":  s.transcripts.Load(),
		})
	}
	s.logger.Info("session_closed",
		slog.String("previous_state", prev.String()),
		slog.Int64("audio_frames", s.audioFrames.Load()),
		slog.Int64("transcripts", s.transcripts.Load()))
	return nil
}

func (s *Session) receiveLoop(ctx context.Context, stream stt.Stream, done chan struct{}) {
	defer close(done)
	for {
		ev, err := stream.Recv(ctx)
		if err != nil {
			if s.closed.Load() || errors.Is(err, context.Canceled) {
				s.logger.Debug("receive_loop_stopped")
				return
			}
			if errors.Is(err, stt.ErrStreamClosed) {
				err = errorsx.Wrap(fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err), errorsx.ReasonUpstreamUnavailable)
			} else {
				err = errorsx.Wrapf(err, errorsx.ReasonUpstreamTransport, "receive transcript")
			}
			s.logger.Error("upstream_receive_error", errorsx.LogAttrs(err)...)
			s.fail(err)
			return
		}
		switch ev.Type {
		case stt.EventData:
			if err := s.relayTranscript(ev); err != nil {
				if !s.closed.Load() {
					s.logger.Error("caller_send_failed", errorsx.LogAttrs(err)...)
					s.fail(err)
				}
				return
			}
		case stt.EventError:
			s.logger.Error("upstream_error_event",
				slog.String("error", ev.ErrorMessage),
				slog.String("code", ev.ErrorCode),
				slog.String("reason_code", string(errorsx.ReasonUpstreamRejected)))
			s.fail(errorsx.Wrap(upstreamError(ev), errorsx.ReasonUpstreamRejected))
			return
		case stt.EventSignal:
			s.logger.Debug("upstream_signal", slog.String("signal", ev.Signal))
		default:
			s.logger.Debug("upstream_event_ignored", slog.String("type", string(ev.Type)))
		}
	}
}

// fail moves an active session to CLOSED after the receive loop has ended on
// its own. The upstream stream is released here; the dump stays open until
// Close.
func (s *Session) fail(cause error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.err = cause
	stream := s.stream
	s.stream = nil
	notify := s.opts.onFailure
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			s.logger.Warn("upstream_close_failed", slog.String("error", err.Error()))
		}
	}
	s.logger.Warn("session_failed", errorsx.LogAttrs(cause)...)
	if notify != nil {
		notify(cause)
	}
}

func upstreamError(ev stt.Event) error {
	msg := ev.ErrorMessage
	if msg == "" {
		msg = "upstream reported an error"
	}
	if ev.ErrorCode != "" {
		return fmt.Errorf("upstream error %s: %s", ev.ErrorCode, msg)
	}
	return fmt.Errorf("upstream error: %s", msg)
}

func (s *Session) relayTranscript(ev stt.Event) error {
	s.logger.Info("transcript_received",
		slog.String("transcript", redact.Text(ev.Transcript)),
		slog.String("language_code", ev.LanguageCode))
	s.transcripts.Add(1)
	s.record(metrics.EventTranscript, float64(len(ev.Transcript)), map[string]any{
		"language_code": ev.LanguageCode,
		"request_id":    ev.RequestID,
	})
	if err := s.emit(frames.NewTranscript(ev.Transcript, frames.ChannelCustomer)); err != nil {
		return err
	}
	if s.opts.AssistantEcho {
		return s.emit(frames.NewTranscript(s.opts.EchoText, frames.ChannelAssistant))
	}
	return nil
}

// emit never writes once Close has begun.
func (s *Session) emit(env frames.TranscriptEnvelope) error {
	if s.closed.Load() {
		return errorsx.Wrap(ErrSessionClosed, errorsx.ReasonSessionClosed)
	}
	if s.caller == nil {
		return errorsx.Wrap(errNoCaller, errorsx.ReasonCallerTransport)
	}
	return s.caller.WriteJSON(env)
}

func (s *Session) record(name string, value float64, fields map[string]any) {
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Value:  value,
		Tags:   map[string]string{"session_id": s.id},
		Fields: fields,
	})
}
