package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/harunnryd/sarvamrelay/pkg/metrics"
	"github.com/harunnryd/sarvamrelay/pkg/providers/mock"
)

var errTestConnect = errors.New("dial refused")

func TestSessionRecordsLifecycleEvents(t *testing.T) {
	obs := metrics.NewMemoryObserver()
	p := mock.NewSTT(mock.STTConfig{Transcripts: []string{"foo"}})
	caller := &captureCaller{}
	sess := NewSession(Options{
		Provider:   p,
		Caller:     caller,
		SampleRate: 16000,
		Encoding:   "audio/wav",
		Observer:   obs,
	})
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sess.Write(context.Background(), []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Echo is off, so only the customer envelope arrives.
	waitForMessages(t, caller, 1)
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := obs.Named(metrics.EventUpstreamConnect); len(got) != 1 || got[0].Fields["ok"] != true {
		t.Fatalf("unexpected connect events %+v", got)
	}
	if got := obs.Named(metrics.EventAudioIn); len(got) != 1 || got[0].Value != 8 {
		t.Fatalf("unexpected audio events %+v", got)
	}
	if got := obs.Named(metrics.EventTranscript); len(got) != 1 || got[0].Value != 3 {
		t.Fatalf("unexpected transcript events %+v", got)
	}
	end := obs.Named(metrics.EventSessionEnd)
	if len(end) != 1 {
		t.Fatalf("expected one session_end, got %d", len(end))
	}
	if end[0].Fields["audio_frames"] != int64(1) || end[0].Fields["transcripts"] != int64(1) {
		t.Fatalf("unexpected session_end fields %+v", end[0].Fields)
	}
	if end[0].Tags["session_id"] != sess.ID() {
		t.Fatalf("expected session_id tag")
	}

	_ = sess.Close()
	if got := len(obs.Named(metrics.EventSessionEnd)); got != 1 {
		t.Fatalf("session_end recorded %d times", got)
	}
}

func TestFailedConnectRecordsNoSession(t *testing.T) {
	obs := metrics.NewMemoryObserver()
	p := mock.NewSTT(mock.STTConfig{ConnectErr: errTestConnect})
	sess := NewSession(Options{Provider: p, Caller: &captureCaller{}, Observer: obs})
	if err := sess.Start(context.Background()); err == nil {
		t.Fatalf("expected connect failure")
	}
	_ = sess.Close()
	if got := obs.Named(metrics.EventUpstreamConnect); len(got) != 1 || got[0].Fields["ok"] != false {
		t.Fatalf("unexpected connect events %+v", got)
	}
	if len(obs.Named(metrics.EventSessionStart)) != 0 || len(obs.Named(metrics.EventSessionEnd)) != 0 {
		t.Fatalf("failed start must not record a session")
	}
}
