package livelink

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
)

// ScreenMimeType is the outbound screen frame format.
const ScreenMimeType = "image/jpeg"

const (
	defaultFrameRate   = 1.0
	defaultJPEGQuality = 70
)

// FrameSource abstracts the shared display surface. Capture returns the
// current frame; a capture error means the surface is gone (for example the
// user revoked sharing from outside the program).
type FrameSource interface {
	Capture() (image.Image, error)
	Close() error
}

// ScreenProducerOptions configures a ScreenProducer.
type ScreenProducerOptions struct {
	// Source overrides the capture surface. Defaults to the primary display.
	Source FrameSource
	// FrameRate in frames per second. Default 1.
	FrameRate float64
	// JPEGQuality trades size for fidelity, 1-100. Default 70.
	JPEGQuality int
	Logger      *slog.Logger
}

// ScreenProducer owns the display-capture surface for the duration of one
// sharing run and forwards JPEG frames to the session on a fixed cadence.
type ScreenProducer struct {
	session  mediaSender
	logger   *slog.Logger
	source   FrameSource
	interval time.Duration
	quality  int

	mu            sync.Mutex
	active        bool
	stopCh        chan struct{}
	dropped       int64
	stopListeners []func(external bool)
}

// NewScreenProducer creates an inactive screen producer bound to session.
func NewScreenProducer(session mediaSender, opts ScreenProducerOptions) *ScreenProducer {
	if opts.FrameRate <= 0 {
		opts.FrameRate = defaultFrameRate
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = defaultJPEGQuality
	}
	if opts.Source == nil {
		opts.Source = &DisplaySource{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ScreenProducer{
		session:  session,
		logger:   logger,
		source:   opts.Source,
		interval: time.Duration(float64(time.Second) / opts.FrameRate),
		quality:  opts.JPEGQuality,
	}
}

// Kind implements Handle.
func (p *ScreenProducer) Kind() string { return KindScreen }

// Source returns the capture surface, for preview rendering.
func (p *ScreenProducer) Source() FrameSource { return p.source }

// Active reports whether the capture surface is currently held.
func (p *ScreenProducer) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// OnStop registers a listener for stop transitions. external is true when
// sharing ended outside the program's control.
func (p *ScreenProducer) OnStop(fn func(external bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopListeners = append(p.stopListeners, fn)
}

// Start acquires the capture surface and begins the production loop. The
// first frame is captured synchronously so acquisition failures surface to
// the caller before any goroutine runs.
func (p *ScreenProducer) Start() error {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if p.session.State() != StateConnected {
		return NewNotConnectedError("screen capture requires a connected session")
	}

	first, err := p.source.Capture()
	if err != nil {
		return classifyCaptureError(err)
	}

	stop := make(chan struct{})
	p.mu.Lock()
	p.active = true
	p.stopCh = stop
	p.dropped = 0
	p.mu.Unlock()

	go p.produceLoop(first, stop)
	return nil
}

func (p *ScreenProducer) produceLoop(first image.Image, stop chan struct{}) {
	p.sendFrame(first)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame, err := p.source.Capture()
			if err != nil {
				// Out-of-band revocation: same cleanup path as Stop.
				p.logger.Warn("screen capture ended externally", "error", err)
				_ = p.stopInternal(true)
				return
			}
			p.sendFrame(frame)
		}
	}
}

func (p *ScreenProducer) sendFrame(frame image.Image) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: p.quality}); err != nil {
		p.logger.Warn("encode screen frame", "error", err)
		return
	}
	if err := p.session.SendMedia(ScreenMimeType, buf.Bytes()); err != nil {
		p.mu.Lock()
		p.dropped++
		n := p.dropped
		p.mu.Unlock()
		if n == 1 || n%10 == 0 {
			p.logger.Debug("dropped screen frame", "total", n, "error", err)
		}
	}
}

// Stop releases the capture surface. Idempotent.
func (p *ScreenProducer) Stop() error {
	return p.stopInternal(false)
}

func (p *ScreenProducer) stopInternal(external bool) error {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return nil
	}
	p.active = false
	close(p.stopCh)
	p.stopCh = nil
	listeners := append(([]func(bool))(nil), p.stopListeners...)
	p.mu.Unlock()

	err := p.source.Close()
	for _, fn := range listeners {
		fn(external)
	}
	return err
}

// DisplaySource captures a physical display.
type DisplaySource struct {
	// Display is the zero-based display index.
	Display int
}

// Capture grabs the current contents of the display.
func (d *DisplaySource) Capture() (image.Image, error) {
	if screenshot.NumActiveDisplays() <= d.Display {
		return nil, NewDeviceUnavailableError(fmt.Sprintf("display %d is not available", d.Display))
	}
	img, err := screenshot.CaptureDisplay(d.Display)
	if err != nil {
		return nil, NewDeviceUnavailableError(fmt.Sprintf("capture display %d: %v", d.Display, err))
	}
	return img, nil
}

// Close implements FrameSource. Physical displays hold no handle.
func (d *DisplaySource) Close() error { return nil }
