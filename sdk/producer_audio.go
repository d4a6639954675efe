package livelink

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

const (
	// AudioMimeType is the outbound microphone chunk format: 16kHz mono
	// 16-bit little-endian PCM.
	AudioMimeType = "audio/pcm;rate=16000"

	audioSampleRate    = 16000
	defaultAudioFrame  = 20 * time.Millisecond
	droppedLogInterval = 250
)

// AudioSource abstracts the capture device so tests can substitute fakes.
// Start begins delivering PCM frames to onFrame until Stop.
type AudioSource interface {
	Start(onFrame func(pcm []byte)) error
	Stop() error
}

// AudioProducerOptions configures an AudioProducer.
type AudioProducerOptions struct {
	// Source overrides the capture device. Defaults to the system
	// microphone.
	Source AudioSource
	// FrameDuration is the capture cadence. Default 20ms.
	FrameDuration time.Duration
	Logger        *slog.Logger
}

// AudioProducer owns the microphone for the duration of one capture run and
// forwards fixed-cadence PCM frames to the session.
type AudioProducer struct {
	session mediaSender
	logger  *slog.Logger
	source  AudioSource

	mu            sync.Mutex
	active        bool
	dropped       int64
	stopListeners []func(external bool)
}

// NewAudioProducer creates an inactive audio producer bound to session.
func NewAudioProducer(session mediaSender, opts AudioProducerOptions) *AudioProducer {
	if opts.FrameDuration <= 0 {
		opts.FrameDuration = defaultAudioFrame
	}
	if opts.Source == nil {
		opts.Source = &MicrophoneSource{FrameDuration: opts.FrameDuration}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioProducer{
		session: session,
		logger:  logger,
		source:  opts.Source,
	}
}

// Kind implements Handle.
func (p *AudioProducer) Kind() string { return KindAudio }

// Active reports whether the capture device is currently held.
func (p *AudioProducer) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// OnStop registers a listener for stop transitions. external is true when
// the device ended outside the program's control.
func (p *AudioProducer) OnStop(fn func(external bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopListeners = append(p.stopListeners, fn)
}

// Start acquires the microphone and begins the production loop. It is
// rejected while the session is not connected: no device is acquired for a
// session that cannot consume its output.
func (p *AudioProducer) Start() error {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if p.session.State() != StateConnected {
		return NewNotConnectedError("audio capture requires a connected session")
	}
	if err := p.source.Start(p.onFrame); err != nil {
		return classifyCaptureError(err)
	}

	p.mu.Lock()
	p.active = true
	p.dropped = 0
	p.mu.Unlock()
	return nil
}

// onFrame forwards one captured unit. Units that cannot be sent are
// dropped, not buffered: for realtime media freshness beats completeness.
func (p *AudioProducer) onFrame(pcm []byte) {
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()
	if !active {
		return
	}
	if err := p.session.SendMedia(AudioMimeType, pcm); err != nil {
		p.mu.Lock()
		p.dropped++
		n := p.dropped
		p.mu.Unlock()
		if n == 1 || n%droppedLogInterval == 0 {
			p.logger.Debug("dropped audio frame", "total", n, "error", err)
		}
	}
}

// Stop releases the microphone. Idempotent.
func (p *AudioProducer) Stop() error {
	return p.stopInternal(false)
}

func (p *AudioProducer) stopInternal(external bool) error {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return nil
	}
	p.active = false
	listeners := append(([]func(bool))(nil), p.stopListeners...)
	p.mu.Unlock()

	err := p.source.Stop()
	for _, fn := range listeners {
		fn(external)
	}
	return err
}

// classifyCaptureError maps acquisition failures onto the error taxonomy:
// a declined permission is distinguishable from any other device failure.
func classifyCaptureError(err error) error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") || strings.Contains(msg, "not authorized") {
		return NewPermissionError(fmt.Sprintf("capture permission denied: %v", err))
	}
	return NewDeviceUnavailableError(fmt.Sprintf("capture device unavailable: %v", err))
}

// MicrophoneSource captures from the default system microphone via malgo,
// as 16kHz mono s16le frames.
type MicrophoneSource struct {
	// FrameDuration is the device period size. Default 20ms.
	FrameDuration time.Duration

	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// Start acquires the device and begins delivering frames.
func (m *MicrophoneSource) Start(onFrame func(pcm []byte)) error {
	frame := m.FrameDuration
	if frame <= 0 {
		frame = defaultAudioFrame
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return NewDeviceUnavailableError(fmt.Sprintf("init audio context: %v", err))
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = audioSampleRate
	deviceConfig.PeriodSizeInMilliseconds = uint32(frame / time.Millisecond)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onFrame(append([]byte(nil), input...))
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return classifyCaptureError(err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return classifyCaptureError(err)
	}

	m.ctx = ctx
	m.device = device
	return nil
}

// Stop releases the device deterministically.
func (m *MicrophoneSource) Stop() error {
	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		err := m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
		return err
	}
	return nil
}
