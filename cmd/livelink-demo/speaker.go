package main

import (
	"sync"

	"github.com/ebitengine/oto/v3"
)

const (
	sampleRate = 24000
	channels   = 1
)

// speaker plays PCM through the default output device. It implements
// livelink.Renderer: the playback consumer owns ordering and pre-buffering,
// the speaker just feeds oto.
type speaker struct {
	otoCtx *oto.Context

	mu      sync.Mutex
	cond    *sync.Cond
	player  *oto.Player
	buf     []byte
	playing bool
	closed  bool
}

func newSpeaker() (*speaker, error) {
	// At 24kHz mono 16-bit: 4800 bytes = 100ms of device buffer.
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   4800,
	})
	if err != nil {
		return nil, err
	}
	<-ready

	s := &speaker{otoCtx: otoCtx}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Write hands one segment to the device, starting the player on first use.
func (s *speaker) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
	return nil
}

// Read implements io.Reader for oto.Player.
func (s *speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.buf) == 0 {
		// Silence lets oto drain gracefully.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush discards all pending audio immediately (barge-in).
func (s *speaker) Flush() error {
	s.mu.Lock()
	s.buf = s.buf[:0]
	if s.player != nil && s.playing {
		s.playing = false
		player := s.player
		s.player = nil
		s.mu.Unlock()

		// Pause stops output now; Reset clears oto's internal buffer so old
		// audio cannot overlap the next utterance.
		player.Pause()
		player.Reset()
		player.Close()
		return nil
	}
	s.mu.Unlock()
	return nil
}

func (s *speaker) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		return player.Close()
	}
	return nil
}
