package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/harunnryd/sarvamrelay/pkg/errorsx"
	"github.com/harunnryd/sarvamrelay/pkg/frames"
	"github.com/harunnryd/sarvamrelay/pkg/logging"
)

// Handler drives one caller connection: it owns at most one Session and
// routes control and audio frames to it. It is not safe for concurrent use;
// the connection read loop is its only caller.
type Handler struct {
	opts   Options
	sess   *Session
	logger *slog.Logger

	failOnce sync.Once
	failed   chan struct{}
	failErr  error
}

func NewHandler(opts Options) *Handler {
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	opts.Caller = SerializeCaller(opts.Caller)
	h := &Handler{
		logger: logging.NewComponentLogger(base, "connection"),
		failed: make(chan struct{}),
	}
	opts.onFailure = h.fail
	h.opts = opts
	return h
}

func (h *Handler) fail(err error) {
	h.failOnce.Do(func() {
		h.failErr = err
		close(h.failed)
	})
}

// Failed is closed when the session ends from the upstream side. The
// connection must then be terminated with Err.
func (h *Handler) Failed() <-chan struct{} { return h.failed }

// Err returns the error that closed Failed, or nil.
func (h *Handler) Err() error {
	select {
	case <-h.failed:
		return h.failErr
	default:
		return nil
	}
}

// Session returns the current session, or nil before "start".
func (h *Handler) Session() *Session { return h.sess }

// HandleControl processes one text frame.
func (h *Handler) HandleControl(ctx context.Context, raw []byte) error {
	msg, err := frames.ParseControl(raw)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCallerProtocol)
	}
	if !msg.IsStart() {
		h.logger.Debug("control_message_ignored", slog.String("type", string(msg.Type)))
		return nil
	}
	if h.sess != nil {
		// Start on an existing session reports already-started or closed.
		return h.sess.Start(ctx)
	}
	opts := h.opts
	if msg.SampleRate > 0 {
		opts.SampleRate = msg.SampleRate
	}
	h.logger.Info("start_received",
		slog.String("encoding", msg.Encoding),
		slog.Int("sample_rate", msg.SampleRate),
		slog.Int("channels", msg.Channels))
	h.sess = NewSession(opts)
	return h.sess.Start(ctx)
}

// HandleAudio processes one binary frame. The first frame of a session
// triggers the greeting before any audio is forwarded.
func (h *Handler) HandleAudio(ctx context.Context, frame []byte) error {
	if h.sess == nil {
		return errorsx.Wrap(ErrSessionNotStarted, errorsx.ReasonSessionNotStarted)
	}
	if err := h.sess.Err(); err != nil {
		return err
	}
	if err := h.sess.Greet(ctx); err != nil {
		return err
	}
	return h.sess.Write(ctx, frame)
}

// Close tears down the session, if any.
func (h *Handler) Close() error {
	if h.sess == nil {
		return nil
	}
	return h.sess.Close()
}
