// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/intercept"
	xglog "github.com/ManuGH/offlinevod/internal/log"
	"github.com/ManuGH/offlinevod/internal/vpath"
)

// ErrInvalidState is returned when Initialize is called outside
// StateUninitialized.
var ErrInvalidState = errors.New("playback: controller is not uninitialized")

// ErrCannotSeek is returned by Seek outside StatePlaying and StatePaused.
var ErrCannotSeek = errors.New("playback: cannot seek in current state")

// MediaEvent is a media lifecycle notification from the player.
type MediaEvent string

const (
	EventPlay    MediaEvent = "play"
	EventPause   MediaEvent = "pause"
	EventSeeked  MediaEvent = "seeked"
	EventWaiting MediaEvent = "waiting"
	EventCanPlay MediaEvent = "canplay"
	EventEnded   MediaEvent = "ended"
	EventError   MediaEvent = "error"
)

// Player is the media engine the controller drives.
type Player interface {
	// Load fetches and parses the manifest.
	Load(ctx context.Context) error
	Play() error
	Pause()
	Seek(position time.Duration) error
	Destroy()
}

// PlayerConfig binds a new player to the interception layer.
type PlayerConfig struct {
	Client      *http.Client
	ManifestURL string
	OnEvent     func(ev MediaEvent, err error)
}

// PlayerFactory builds a player for one initialized download.
type PlayerFactory func(cfg PlayerConfig) (Player, error)

// Options configures a Controller.
type Options struct {
	// BaseURL prefixes virtual paths handed to the player. Any host works
	// because the transport answers offline paths itself.
	BaseURL string
	Factory PlayerFactory
}

// Controller coordinates the state machine, storage and player.
type Controller struct {
	machine   *Machine
	store     intercept.Store
	transport *intercept.Transport
	opts      Options
	logger    zerolog.Logger

	mu         sync.Mutex
	player     Player
	downloadID string
}

// NewController returns a controller in StateUninitialized.
func NewController(store intercept.Store, transport *intercept.Transport, opts Options) *Controller {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://offline.local"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Controller{
		machine:   NewMachine(),
		store:     store,
		transport: transport,
		opts:      opts,
		logger:    xglog.WithComponent("playback"),
	}
}

// State returns the current playback state.
func (c *Controller) State() State { return c.machine.State() }

// Subscribe registers fn for state changes and returns its disposer.
func (c *Controller) Subscribe(fn func(State)) func() { return c.machine.Subscribe(fn) }

// DownloadID is the id passed to the last Initialize.
func (c *Controller) DownloadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downloadID
}

// ManifestURL is the URL the player loads for id.
func (c *Controller) ManifestURL(id string) string {
	return c.opts.BaseURL + vpath.ManifestPath(id)
}

// Initialize prepares offline playback of a stored download. Any failure
// moves the machine to StateError and is returned.
func (c *Controller) Initialize(ctx context.Context, id string) error {
	if !c.machine.Transition(StateInitializing) {
		return fmt.Errorf("%w: %s", ErrInvalidState, c.machine.State())
	}
	logger := c.logger.With().Str(xglog.FieldDownloadID, id).Logger()

	if err := c.initialize(ctx, id); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "playback.init_failed").Msg("offline playback initialization failed")
		c.machine.Transition(StateError)
		return err
	}
	c.machine.Transition(StateReady)
	logger.Info().Str(xglog.FieldEvent, "playback.ready").Msg("offline playback ready")
	return nil
}

func (c *Controller) initialize(ctx context.Context, id string) error {
	c.machine.Transition(StateLoadingMetadata)
	rec, ok, err := c.store.GetDownloadRecord(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: offline metadata for %s", model.ErrNotFound, id)
	}

	c.machine.Transition(StateLoadingPlaylist)
	if _, ok, err := c.store.ReadManifest(ctx, rec); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: offline playlist for %s", model.ErrNotFound, id)
	}

	if c.opts.Factory == nil {
		return errors.New("playback: no player factory configured")
	}

	c.mu.Lock()
	old := c.player
	c.player = nil
	c.downloadID = id
	c.mu.Unlock()
	if old != nil {
		old.Destroy()
	}

	p, err := c.opts.Factory(PlayerConfig{
		Client:      c.transport.Client(),
		ManifestURL: c.ManifestURL(id),
		OnEvent:     c.onPlayerEvent,
	})
	if err != nil {
		return fmt.Errorf("playback: create player: %w", err)
	}
	if err := p.Load(ctx); err != nil {
		p.Destroy()
		return fmt.Errorf("playback: load manifest: %w", err)
	}

	c.mu.Lock()
	c.player = p
	c.mu.Unlock()
	return nil
}

func (c *Controller) current() Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player
}

// Play starts playback from StateReady or StatePaused. Other states are
// ignored. A player failure moves the machine to StateError.
func (c *Controller) Play() error {
	s := c.machine.State()
	if s != StateReady && s != StatePaused {
		c.logger.Warn().Str(xglog.FieldOldState, string(s)).Msg("cannot play in current state")
		return nil
	}
	p := c.current()
	if p == nil {
		c.machine.Transition(StateError)
		return errors.New("playback: no player")
	}
	// Playing is entered first so events from the started player see it.
	c.machine.Transition(StatePlaying)
	if err := p.Play(); err != nil {
		c.logger.Error().Err(err).Msg("play failed")
		c.machine.Transition(StateError)
		return err
	}
	return nil
}

// Pause pauses from StatePlaying; otherwise it does nothing.
func (c *Controller) Pause() {
	if c.machine.State() != StatePlaying {
		return
	}
	if p := c.current(); p != nil {
		p.Pause()
	}
	c.machine.Transition(StatePaused)
}

// Seek requests a seek to position from StatePlaying or StatePaused. The
// machine returns to playing once the player reports EventSeeked, so a
// seek from paused also restarts the player.
func (c *Controller) Seek(position time.Duration) error {
	from := c.machine.State()
	if !c.machine.Transition(StateSeeking) {
		return fmt.Errorf("%w: %s", ErrCannotSeek, from)
	}
	p := c.current()
	if p == nil {
		c.machine.Transition(StateError)
		return errors.New("playback: no player")
	}
	if err := p.Seek(position); err != nil {
		c.logger.Error().Err(err).Dur("position", position).Msg("seek failed")
		c.machine.Transition(StateError)
		return err
	}
	if from == StatePaused {
		if err := p.Play(); err != nil {
			c.logger.Error().Err(err).Msg("resume after seek failed")
			c.machine.Transition(StateError)
			return err
		}
	}
	return nil
}

// HandleEvent applies a media event. Each event only fires when the
// current state matches its precondition.
func (c *Controller) HandleEvent(ev MediaEvent) {
	s := c.machine.State()
	switch ev {
	case EventPlay:
		if s == StateReady || s == StatePaused {
			c.machine.Transition(StatePlaying)
		}
	case EventPause:
		if s == StatePlaying {
			c.machine.Transition(StatePaused)
		}
	case EventSeeked:
		if s == StateSeeking {
			c.machine.Transition(StatePlaying)
		}
	case EventWaiting:
		if s == StatePlaying {
			c.machine.Transition(StateBuffering)
		}
	case EventCanPlay:
		if s == StateBuffering {
			c.machine.Transition(StatePlaying)
		}
	case EventEnded:
		if s == StatePlaying {
			c.machine.Transition(StateEnded)
		}
	case EventError:
		c.machine.Transition(StateError)
	default:
		c.logger.Debug().Str("media_event", string(ev)).Msg("ignoring unknown media event")
	}
}

func (c *Controller) onPlayerEvent(ev MediaEvent, err error) {
	if err != nil {
		c.logger.Error().Err(err).Str("media_event", string(ev)).Msg("player reported an error")
	}
	c.HandleEvent(ev)
}

// Destroy releases the player and resets to StateUninitialized where the
// table allows it.
func (c *Controller) Destroy() {
	c.mu.Lock()
	p := c.player
	c.player = nil
	c.mu.Unlock()
	if p != nil {
		p.Destroy()
	}
	c.machine.Transition(StateUninitialized)
}
