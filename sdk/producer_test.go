package livelink

import (
	"bytes"
	"errors"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type sentMedia struct {
	mimeType string
	data     []byte
}

// fakeSender stands in for a session on the producer side.
type fakeSender struct {
	mu    sync.Mutex
	state ConnState
	err   error
	sent  []sentMedia
}

func (s *fakeSender) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSender) setState(state ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *fakeSender) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeSender) SendMedia(mimeType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMedia{mimeType: mimeType, data: append([]byte(nil), data...)})
	return nil
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSender) snapshot() []sentMedia {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMedia(nil), s.sent...)
}

type fakeAudioSource struct {
	mu       sync.Mutex
	startErr error
	starts   int
	stops    int
	onFrame  func(pcm []byte)
}

func (s *fakeAudioSource) Start(onFrame func(pcm []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.starts++
	s.onFrame = onFrame
	return nil
}

func (s *fakeAudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.onFrame = nil
	return nil
}

func (s *fakeAudioSource) emit(pcm []byte) {
	s.mu.Lock()
	onFrame := s.onFrame
	s.mu.Unlock()
	if onFrame != nil {
		onFrame(pcm)
	}
}

func (s *fakeAudioSource) counts() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAudioProducer_StartRejectedWhileDisconnected(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{state: StateConnecting}
	source := &fakeAudioSource{}
	producer := NewAudioProducer(sender, AudioProducerOptions{Source: source, Logger: quietLogger()})

	err := producer.Start()
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Type != ErrNotConnected {
		t.Fatalf("Start while connecting = %v, want not_connected error", err)
	}
	if starts, _ := source.counts(); starts != 0 {
		t.Fatalf("device acquired for a session that cannot consume: starts = %d", starts)
	}
	if producer.Active() {
		t.Fatal("producer active after rejected start")
	}
}

func TestAudioProducer_ForwardsCapturedFrames(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{state: StateConnected}
	source := &fakeAudioSource{}
	producer := NewAudioProducer(sender, AudioProducerOptions{Source: source, Logger: quietLogger()})

	if err := producer.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if !producer.Active() {
		t.Fatal("producer not active after start")
	}

	source.emit([]byte{1, 2})
	source.emit([]byte{3, 4})

	sent := sender.snapshot()
	if len(sent) != 2 {
		t.Fatalf("sent = %d frames, want 2", len(sent))
	}
	if sent[0].mimeType != AudioMimeType {
		t.Fatalf("mime type = %q, want %q", sent[0].mimeType, AudioMimeType)
	}
	if !bytes.Equal(sent[1].data, []byte{3, 4}) {
		t.Fatalf("frame payload = %v, want [3 4]", sent[1].data)
	}

	if err := producer.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}

func TestAudioProducer_DropsUnsendableFrames(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{state: StateConnected}
	source := &fakeAudioSource{}
	producer := NewAudioProducer(sender, AudioProducerOptions{Source: source, Logger: quietLogger()})

	if err := producer.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	sender.setErr(NewNotConnectedError("reconnecting"))
	source.emit([]byte{1})
	source.emit([]byte{2})
	if got := sender.sentCount(); got != 0 {
		t.Fatalf("frames delivered during outage = %d, want 0", got)
	}

	// Dropped frames are gone: once sending recovers only fresh frames
	// arrive.
	sender.setErr(nil)
	source.emit([]byte{3})
	sent := sender.snapshot()
	if len(sent) != 1 || !bytes.Equal(sent[0].data, []byte{3}) {
		t.Fatalf("frames after recovery = %v, want just [3]", sent)
	}

	_ = producer.Stop()
}

func TestAudioProducer_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{state: StateConnected}
	source := &fakeAudioSource{}
	producer := NewAudioProducer(sender, AudioProducerOptions{Source: source, Logger: quietLogger()})

	var externals []bool
	var mu sync.Mutex
	producer.OnStop(func(external bool) {
		mu.Lock()
		defer mu.Unlock()
		externals = append(externals, external)
	})

	if err := producer.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := producer.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if err := producer.Stop(); err != nil {
		t.Fatalf("second Stop error: %v", err)
	}

	if _, stops := source.counts(); stops != 1 {
		t.Fatalf("source stops = %d, want 1", stops)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(externals) != 1 || externals[0] {
		t.Fatalf("stop notifications = %v, want one internal stop", externals)
	}
}

func TestAudioProducer_ClassifiesAcquisitionFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		startErr error
		wantType ErrorType
	}{
		{"permission denied", errors.New("microphone access denied by user"), ErrPermission},
		{"device missing", errors.New("no capture device found"), ErrDeviceUnavailable},
		{"typed error passes through", NewPermissionError("nope"), ErrPermission},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sender := &fakeSender{state: StateConnected}
			source := &fakeAudioSource{startErr: tt.startErr}
			producer := NewAudioProducer(sender, AudioProducerOptions{Source: source, Logger: quietLogger()})

			err := producer.Start()
			var apiErr *Error
			if !errors.As(err, &apiErr) || apiErr.Type != tt.wantType {
				t.Fatalf("Start = %v, want %s", err, tt.wantType)
			}
			if producer.Active() {
				t.Fatal("producer active after failed acquisition")
			}
		})
	}
}

type fakeFrameSource struct {
	mu       sync.Mutex
	err      error
	captures int
	closes   int
}

func (s *fakeFrameSource) Capture() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures++
	if s.err != nil {
		return nil, s.err
	}
	return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil
}

func (s *fakeFrameSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeFrameSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeFrameSource) counts() (captures, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures, s.closes
}

func TestScreenProducer_StartRejectedWhileDisconnected(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{state: StateDisconnected}
	source := &fakeFrameSource{}
	producer := NewScreenProducer(sender, ScreenProducerOptions{Source: source, Logger: quietLogger()})

	err := producer.Start()
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Type != ErrNotConnected {
		t.Fatalf("Start while disconnected = %v, want not_connected error", err)
	}
	if captures, _ := source.counts(); captures != 0 {
		t.Fatalf("surface acquired for a dead session: captures = %d", captures)
	}
}

func TestScreenProducer_SendsJPEGFrames(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{state: StateConnected}
	source := &fakeFrameSource{}
	producer := NewScreenProducer(sender, ScreenProducerOptions{
		Source: source, FrameRate: 100, Logger: quietLogger(),
	})

	if err := producer.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer producer.Stop()

	waitFor(t, "encoded frames", func() bool { return sender.sentCount() >= 2 })
	sent := sender.snapshot()
	if sent[0].mimeType != ScreenMimeType {
		t.Fatalf("mime type = %q, want %q", sent[0].mimeType, ScreenMimeType)
	}
	if len(sent[0].data) < 2 || sent[0].data[0] != 0xFF || sent[0].data[1] != 0xD8 {
		t.Fatalf("frame is not JPEG: % x", sent[0].data[:2])
	}
}

func TestScreenProducer_AcquisitionFailureSurfacesBeforeLoop(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{state: StateConnected}
	source := &fakeFrameSource{err: errors.New("display gone")}
	producer := NewScreenProducer(sender, ScreenProducerOptions{Source: source, Logger: quietLogger()})

	err := producer.Start()
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Type != ErrDeviceUnavailable {
		t.Fatalf("Start = %v, want device_unavailable error", err)
	}
	if producer.Active() {
		t.Fatal("producer active after failed acquisition")
	}
}

func TestScreenProducer_ExternalRevocationStopsAndNotifies(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{state: StateConnected}
	source := &fakeFrameSource{}
	producer := NewScreenProducer(sender, ScreenProducerOptions{
		Source: source, FrameRate: 100, Logger: quietLogger(),
	})

	externalCh := make(chan bool, 1)
	producer.OnStop(func(external bool) { externalCh <- external })

	if err := producer.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitFor(t, "loop running", func() bool { return sender.sentCount() >= 1 })

	source.setErr(errors.New("sharing revoked"))
	select {
	case external := <-externalCh:
		if !external {
			t.Fatal("revocation reported as internal stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no stop notification after revocation")
	}

	if producer.Active() {
		t.Fatal("producer still active after revocation")
	}
	if _, closes := source.counts(); closes != 1 {
		t.Fatalf("source closes = %d, want 1", closes)
	}
}

func TestScreenProducer_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{state: StateConnected}
	source := &fakeFrameSource{}
	producer := NewScreenProducer(sender, ScreenProducerOptions{
		Source: source, FrameRate: 100, Logger: quietLogger(),
	})

	if err := producer.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := producer.Stop(); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if err := producer.Stop(); err != nil {
		t.Fatalf("second Stop error: %v", err)
	}
	if _, closes := source.counts(); closes != 1 {
		t.Fatalf("source closes = %d, want 1", closes)
	}
}
