package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/harunnryd/sarvamrelay/pkg/adapters/stt"
)

func newTestStream(cfg Config) *stream {
	_, cancel := context.WithCancel(context.Background())
	s := &stream{
		cfg:    cfg,
		logger: slog.Default(),
		events: make(chan stt.Event, 8),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	s.pipeReader, s.pipeWriter = io.Pipe()
	return s
}

func transcriptResponse(t *testing.T, text string, final bool) *msginterfaces.MessageResponse {
	t.Helper()
	raw, _ := json.Marshal(map[string]any{
		"is_final": final,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text}},
		},
	})
	var mr msginterfaces.MessageResponse
	if err := json.Unmarshal(raw, &mr); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return &mr
}

func TestCallbackForwardsFinalTranscripts(t *testing.T) {
	s := newTestStream(Config{})
	cb := &callback{parent: s}

	_ = cb.Message(transcriptResponse(t, "partial", false))
	_ = cb.Message(transcriptResponse(t, "", true))
	_ = cb.Message(transcriptResponse(t, "done", true))

	ev, err := s.Recv(context.Background())
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if !ev.IsTranscript() || ev.Transcript != "done" {
		t.Fatalf("expected final transcript, got %+v", ev)
	}
	if len(s.events) != 0 {
		t.Fatalf("expected interim and empty transcripts dropped, %d queued", len(s.events))
	}
}

func TestSendDecodesBase64(t *testing.T) {
	s := newTestStream(Config{})
	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4)
		n, _ := io.ReadFull(s.pipeReader, buf)
		got <- buf[:n]
	}()
	if err := s.Send(context.Background(), stt.AudioChunk{Data: "AQIFBg=="}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if b := <-got; string(b) != "\x01\x02\x05\x06" {
		t.Fatalf("unexpected bytes %x", b)
	}
	if err := s.Send(context.Background(), stt.AudioChunk{Data: "%%%"}); err == nil {
		t.Fatalf("expected base64 error")
	}
}

func TestCloseStopsRecv(t *testing.T) {
	s := newTestStream(Config{})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := s.Recv(context.Background()); !errors.Is(err, stt.ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
	if err := s.Send(context.Background(), stt.AudioChunk{Data: "AA=="}); !errors.Is(err, stt.ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed from send, got %v", err)
	}
}

func TestStreamConfigUsesDeclaredSampleRate(t *testing.T) {
	p := New(Config{Model: "nova-2"})

	cfg := p.streamConfig(stt.ConnectOptions{SampleRate: 8000, Encoding: "audio/wav"})
	opts := liveOptions(cfg)
	if opts.SampleRate != 8000 {
		t.Fatalf("expected 8000 Hz live options, got %d", opts.SampleRate)
	}
	if opts.Encoding != "linear16" {
		t.Fatalf("expected configured encoding, got %q", opts.Encoding)
	}

	if got := liveOptions(p.streamConfig(stt.ConnectOptions{})).SampleRate; got != 16000 {
		t.Fatalf("expected configured default 16000 Hz, got %d", got)
	}
}

func TestSendRejectsSampleRateMismatch(t *testing.T) {
	s := newTestStream(Config{SampleRate: 8000})
	err := s.Send(context.Background(), stt.AudioChunk{Data: "AQIFBg==", SampleRate: 16000})
	if err == nil {
		t.Fatalf("expected sample rate mismatch error")
	}
}
