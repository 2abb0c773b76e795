// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package player is a headless HLS player. It loads a media playlist and
// pulls segments in order through the configured http.Client, reporting
// media events the way a browser media element would.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/offlinevod/internal/log"
	"github.com/ManuGH/offlinevod/internal/playback"
	"github.com/ManuGH/offlinevod/internal/retry"
)

const defaultStallAfter = 2 * time.Second

// ErrNotLoaded is returned by Play and Seek before a successful Load.
var ErrNotLoaded = errors.New("player: no playlist loaded")

// Options tunes playback.
type Options struct {
	// Sink receives segment bytes in playback order. Nil discards them.
	Sink io.Writer
	// Realtime paces delivery by segment duration.
	Realtime bool
	// StallAfter is how long a segment fetch may take before EventWaiting.
	StallAfter time.Duration
	Sleep      retry.Sleeper
}

// Player implements playback.Player.
type Player struct {
	cfg    playback.PlayerConfig
	opts   Options
	logger zerolog.Logger

	mu        sync.Mutex
	playlist  *Playlist
	index     int
	bytes     int64
	cancel    context.CancelFunc
	done      chan struct{}
	destroyed bool
}

// New returns a player for cfg.
func New(cfg playback.PlayerConfig, opts Options) (*Player, error) {
	if cfg.Client == nil {
		return nil, errors.New("player: http client is required")
	}
	if _, err := url.Parse(cfg.ManifestURL); err != nil || cfg.ManifestURL == "" {
		return nil, fmt.Errorf("player: invalid manifest url %q", cfg.ManifestURL)
	}
	if opts.StallAfter <= 0 {
		opts.StallAfter = defaultStallAfter
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.SleepWithContext
	}
	if opts.Sink == nil {
		opts.Sink = io.Discard
	}
	return &Player{
		cfg:    cfg,
		opts:   opts,
		logger: xglog.WithComponent("player").With().Str(xglog.FieldPath, cfg.ManifestURL).Logger(),
	}, nil
}

// Factory adapts New to playback.PlayerFactory.
func Factory(opts Options) playback.PlayerFactory {
	return func(cfg playback.PlayerConfig) (playback.Player, error) {
		return New(cfg, opts)
	}
}

// Load fetches and parses the manifest.
func (p *Player) Load(ctx context.Context) error {
	base, err := url.Parse(p.cfg.ManifestURL)
	if err != nil {
		return err
	}
	body, err := p.get(ctx, p.cfg.ManifestURL)
	if err != nil {
		return err
	}
	pl, err := ParsePlaylist(string(body), base)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return errors.New("player: destroyed")
	}
	p.playlist = pl
	p.index = 0
	p.logger.Debug().
		Int(xglog.FieldSegments, len(pl.Segments)).
		Dur("duration", pl.TotalDuration).
		Msg("playlist loaded")
	return nil
}

// Play starts pulling segments from the current position. Playing from
// the end restarts at the beginning.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed || p.playlist == nil {
		return ErrNotLoaded
	}
	if p.cancel != nil {
		return nil
	}
	if p.index >= len(p.playlist.Segments) {
		p.index = 0
	}
	p.startLocked()
	return nil
}

// Pause stops pulling segments and keeps the position.
func (p *Player) Pause() {
	p.stop()
}

// Seek moves to the segment containing position and reports EventSeeked.
func (p *Player) Seek(position time.Duration) error {
	p.mu.Lock()
	if p.destroyed || p.playlist == nil {
		p.mu.Unlock()
		return ErrNotLoaded
	}
	idx := p.playlist.IndexAt(position)
	p.mu.Unlock()

	wasRunning := p.stop()

	p.mu.Lock()
	p.index = idx
	if wasRunning && !p.destroyed {
		p.startLocked()
	}
	p.mu.Unlock()

	p.emit(playback.EventSeeked, nil)
	return nil
}

// Destroy stops playback and drops the playlist.
func (p *Player) Destroy() {
	p.stop()
	p.mu.Lock()
	p.destroyed = true
	p.playlist = nil
	p.mu.Unlock()
}

// Position is the start offset of the next segment to play.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playlist == nil || p.index >= len(p.playlist.Segments) {
		if p.playlist != nil {
			return p.playlist.TotalDuration
		}
		return 0
	}
	return p.playlist.Segments[p.index].Start
}

// BytesPlayed is the number of segment bytes delivered to the sink.
func (p *Player) BytesPlayed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytes
}

func (p *Player) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go p.loop(ctx, cancel, done)
}

// stop ends the running loop, if any, and reports whether one was running.
func (p *Player) stop() bool {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

func (p *Player) loop(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	finish := func() {
		p.mu.Lock()
		if p.done == done {
			p.cancel, p.done = nil, nil
		}
		p.mu.Unlock()
	}

	for {
		p.mu.Lock()
		if p.playlist == nil {
			p.mu.Unlock()
			return
		}
		i := p.index
		if i >= len(p.playlist.Segments) {
			p.mu.Unlock()
			finish()
			p.emit(playback.EventEnded, nil)
			return
		}
		seg := p.playlist.Segments[i]
		p.mu.Unlock()

		data, err := p.fetchSegment(ctx, seg)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			finish()
			p.emit(playback.EventError, err)
			return
		}
		if _, err := p.opts.Sink.Write(data); err != nil {
			finish()
			p.emit(playback.EventError, fmt.Errorf("player: sink: %w", err))
			return
		}

		p.mu.Lock()
		if p.index == i {
			p.index = i + 1
		}
		p.bytes += int64(len(data))
		p.mu.Unlock()

		if p.opts.Realtime && seg.Duration > 0 {
			if err := p.opts.Sleep(ctx, seg.Duration); err != nil {
				return
			}
		}
	}
}

// fetchSegment reports EventWaiting when the fetch stalls and EventCanPlay
// once a stalled fetch completes.
func (p *Player) fetchSegment(ctx context.Context, seg Segment) ([]byte, error) {
	var (
		mu       sync.Mutex
		finished bool
		stalled  bool
	)
	timer := time.AfterFunc(p.opts.StallAfter, func() {
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return
		}
		stalled = true
		p.emit(playback.EventWaiting, nil)
	})

	data, err := p.get(ctx, seg.URL)

	timer.Stop()
	mu.Lock()
	finished = true
	wasStalled := stalled
	mu.Unlock()
	if wasStalled && err == nil {
		p.emit(playback.EventCanPlay, nil)
	}
	return data, err
}

func (p *Player) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("player: GET %s: HTTP %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (p *Player) emit(ev playback.MediaEvent, err error) {
	if p.cfg.OnEvent != nil {
		p.cfg.OnEvent(ev, err)
	}
}
