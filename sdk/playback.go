package livelink

import (
	"log/slog"
	"sync"
)

// Renderer is the audio output device behind a Playback consumer. Write
// blocks until the segment has been handed to the device; Flush discards
// device-buffered audio immediately.
type Renderer interface {
	Write(pcm []byte) error
	Flush() error
	Close() error
}

// PlaybackConfig configures playback buffering.
type PlaybackConfig struct {
	// SampleRate of inbound audio in Hz. Default 24000.
	SampleRate int
	// MinBufferMS is the minimum audio buffered before the first segment
	// is rendered, preventing glitches when the first chunk is small.
	// Default 50ms. Set negative to disable pre-buffering.
	MinBufferMS int
	Logger      *slog.Logger
}

// Playback renders decoded audio segments in strict arrival order and
// supports mid-playback interruption (barge-in). The queue is owned
// exclusively by the consumer: the session only pushes into it.
type Playback struct {
	renderer   Renderer
	logger     *slog.Logger
	minBytes   int
	sampleRate int

	mu          sync.Mutex
	cond        *sync.Cond
	queue       [][]byte
	buffer      []byte
	bufferReady bool
	destroyed   bool
}

// NewPlayback creates a playback consumer and starts its render loop.
func NewPlayback(renderer Renderer, cfg PlaybackConfig) *Playback {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	minBufferMS := cfg.MinBufferMS
	if minBufferMS == 0 {
		minBufferMS = 50
	}
	if minBufferMS < 0 {
		minBufferMS = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Playback{
		renderer:   renderer,
		logger:     logger,
		sampleRate: cfg.SampleRate,
		// 16-bit mono: bytes = rate * 2 * (ms / 1000)
		minBytes: cfg.SampleRate * 2 * minBufferMS / 1000,
	}
	p.cond = sync.NewCond(&p.mu)
	go p.renderLoop()
	return p
}

// Enqueue appends a decoded segment and begins rendering if idle. Segments
// render strictly in arrival order.
func (p *Playback) Enqueue(segment []byte) {
	if len(segment) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}

	p.buffer = append(p.buffer, segment...)
	if !p.bufferReady && len(p.buffer) >= p.minBytes {
		p.bufferReady = true
	}
	if p.bufferReady && len(p.buffer) > 0 {
		p.queue = append(p.queue, p.buffer)
		p.buffer = nil
		p.cond.Signal()
	}
}

// Interrupt clears all queued-but-unplayed segments and halts the currently
// rendering segment as soon as the playback layer allows. Safe to call when
// nothing is playing. Pre-buffering resets for the next utterance.
func (p *Playback) Interrupt() {
	p.mu.Lock()
	p.queue = nil
	p.buffer = nil
	p.bufferReady = false
	destroyed := p.destroyed
	p.mu.Unlock()

	if destroyed {
		return
	}
	if err := p.renderer.Flush(); err != nil {
		p.logger.Warn("flush playback", "error", err)
	}
}

// Destroy releases the output device. Called once, on unmount of the whole
// consumer, not on every disconnect: a momentary reconnect should not
// re-acquire the output device. Idempotent.
func (p *Playback) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.queue = nil
	p.buffer = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	if err := p.renderer.Close(); err != nil {
		p.logger.Warn("close playback renderer", "error", err)
	}
}

// QueuedSegments reports the number of segments awaiting render.
func (p *Playback) QueuedSegments() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Playback) renderLoop() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.destroyed {
			p.cond.Wait()
		}
		if p.destroyed {
			p.mu.Unlock()
			return
		}
		segment := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if err := p.renderer.Write(segment); err != nil {
			p.logger.Warn("render audio segment", "error", err)
		}
	}
}
