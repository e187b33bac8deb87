package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/sarvamrelay/pkg/adapters/stt"
	"github.com/harunnryd/sarvamrelay/pkg/errorsx"
	"github.com/harunnryd/sarvamrelay/pkg/frames"
	"github.com/harunnryd/sarvamrelay/pkg/providers/mock"
)

func newTestHandler(p *mock.Provider, caller Caller) *Handler {
	return NewHandler(Options{
		Provider:      p,
		Caller:        caller,
		SampleRate:    16000,
		Encoding:      "audio/wav",
		Greeting:      DefaultGreeting,
		AssistantEcho: true,
	})
}

func TestHandlerAudioBeforeStart(t *testing.T) {
	p := mock.NewSTT(mock.STTConfig{})
	h := newTestHandler(p, &captureCaller{})

	err := h.HandleAudio(context.Background(), []byte{1, 2, 3, 4})
	if !errors.Is(err, ErrSessionNotStarted) {
		t.Fatalf("expected ErrSessionNotStarted, got %v", err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonSessionNotStarted) {
		t.Fatalf("expected session_not_started reason, got %s", errorsx.Reason(err))
	}
	if Recoverable(err) {
		t.Fatalf("audio before start must end the connection")
	}
	if p.Connects() != 0 {
		t.Fatalf("expected no upstream connection, got %d", p.Connects())
	}
	if err := h.Close(); err != nil {
		t.Fatalf("close without session: %v", err)
	}
}

func TestHandlerDoubleStartRejected(t *testing.T) {
	p := mock.NewSTT(mock.STTConfig{})
	h := newTestHandler(p, &captureCaller{})
	defer h.Close()

	if err := h.HandleControl(context.Background(), []byte(`{"type":"start"}`)); err != nil {
		t.Fatalf("first start: %v", err)
	}
	first := h.Session()
	err := h.HandleControl(context.Background(), []byte(`{"type":"start"}`))
	if !errors.Is(err, ErrSessionAlreadyStarted) {
		t.Fatalf("expected ErrSessionAlreadyStarted, got %v", err)
	}
	if !Recoverable(err) {
		t.Fatalf("a repeated start should not end the connection")
	}
	if p.Connects() != 1 {
		t.Fatalf("expected exactly one upstream connection, got %d", p.Connects())
	}
	if h.Session() != first || first.State() != StateActive {
		t.Fatalf("expected the first session to stay active")
	}
}

func TestHandlerGreetsOnFirstAudioOnly(t *testing.T) {
	p := mock.NewSTT(mock.STTConfig{})
	caller := &captureCaller{}
	h := newTestHandler(p, caller)
	defer h.Close()

	if err := h.HandleControl(context.Background(), []byte(`{"type":"start"}`)); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := h.HandleAudio(context.Background(), []byte{1, 2, 3, 4}); err != nil {
			t.Fatalf("audio %d: %v", i, err)
		}
	}
	msgs := caller.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one greeting, got %+v", msgs)
	}
	if msgs[0] != frames.NewTranscript(DefaultGreeting, frames.ChannelAssistant) {
		t.Fatalf("unexpected greeting %+v", msgs[0])
	}
	if n := len(p.Last().Sent()); n != 3 {
		t.Fatalf("expected 3 chunks upstream, got %d", n)
	}
}

func TestHandlerStartUsesDeclaredSampleRate(t *testing.T) {
	p := mock.NewSTT(mock.STTConfig{})
	h := newTestHandler(p, &captureCaller{})
	defer h.Close()

	start := `{"type":"start","encoding":"linear16","container":"raw","sampleRate":8000,"channels":2}`
	if err := h.HandleControl(context.Background(), []byte(start)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.HandleAudio(context.Background(), []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("audio: %v", err)
	}
	if got := p.Last().Options().SampleRate; got != 8000 {
		t.Fatalf("expected stream opened at 8000 Hz, got %d", got)
	}
	sent := p.Last().Sent()
	if sent[0].SampleRate != 8000 {
		t.Fatalf("expected sample rate 8000, got %d", sent[0].SampleRate)
	}
	if sent[0].Data != base64.StdEncoding.EncodeToString([]byte{1, 2, 5, 6}) {
		t.Fatalf("unexpected payload %s", sent[0].Data)
	}
}

func TestHandlerControlNoise(t *testing.T) {
	p := mock.NewSTT(mock.STTConfig{})
	h := newTestHandler(p, &captureCaller{})

	err := h.HandleControl(context.Background(), []byte(`not json`))
	if !errorsx.HasReason(err, errorsx.ReasonCallerProtocol) || !Recoverable(err) {
		t.Fatalf("expected recoverable caller_protocol error, got %v", err)
	}
	if err := h.HandleControl(context.Background(), []byte(`{"type":"stop"}`)); err != nil {
		t.Fatalf("unknown control type should be ignored: %v", err)
	}
	if h.Session() != nil || p.Connects() != 0 {
		t.Fatalf("expected no session for non-start control frames")
	}
}

func TestHandlerAudioAfterFailedStart(t *testing.T) {
	p := mock.NewSTT(mock.STTConfig{ConnectErr: errors.New("unauthorized")})
	h := newTestHandler(p, &captureCaller{})

	if err := h.HandleControl(context.Background(), []byte(`{"type":"start"}`)); err == nil {
		t.Fatalf("expected start failure")
	}
	err := h.HandleAudio(context.Background(), []byte{1, 2, 3, 4})
	if !errors.Is(err, ErrSessionNotStarted) {
		t.Fatalf("expected ErrSessionNotStarted, got %v", err)
	}
}

func TestHandlerSignalsUpstreamFailure(t *testing.T) {
	p := mock.NewSTT(mock.STTConfig{})
	h := newTestHandler(p, &captureCaller{})
	defer h.Close()

	if err := h.HandleControl(context.Background(), []byte(`{"type":"start"}`)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.Err() != nil {
		t.Fatalf("expected no failure yet, got %v", h.Err())
	}
	_ = p.Last().Emit(stt.Event{Type: stt.EventError, ErrorCode: "429", ErrorMessage: "quota exceeded"})

	select {
	case <-h.Failed():
	case <-time.After(2 * time.Second):
		t.Fatalf("handler was not notified of upstream failure")
	}
	if !errorsx.HasReason(h.Err(), errorsx.ReasonUpstreamRejected) {
		t.Fatalf("expected upstream_rejected, got %v", h.Err())
	}
	if Recoverable(h.Err()) {
		t.Fatalf("upstream failure must end the connection")
	}

	err := h.HandleAudio(context.Background(), []byte{1, 2, 3, 4})
	if !errorsx.HasReason(err, errorsx.ReasonUpstreamRejected) {
		t.Fatalf("expected audio after failure to report upstream_rejected, got %v", err)
	}
	if n := len(p.Last().Sent()); n != 0 {
		t.Fatalf("expected no audio upstream after failure, got %d chunks", n)
	}
}
