// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playback gates offline playback through a strict state machine
// and drives a player bound to the interception layer.
package playback

import (
	"sync"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/offlinevod/internal/log"
	"github.com/ManuGH/offlinevod/internal/metrics"
)

// State is a playback lifecycle state.
type State string

const (
	StateUninitialized   State = "uninitialized"
	StateInitializing    State = "initializing"
	StateLoadingMetadata State = "loading_metadata"
	StateLoadingPlaylist State = "loading_playlist"
	StateReady           State = "ready"
	StatePlaying         State = "playing"
	StatePaused          State = "paused"
	StateSeeking         State = "seeking"
	StateBuffering       State = "buffering"
	StateEnded           State = "ended"
	StateError           State = "error"
)

type stateSet map[State]struct{}

func set(states ...State) stateSet {
	s := make(stateSet, len(states))
	for _, st := range states {
		s[st] = struct{}{}
	}
	return s
}

// transitions lists, per state, every state it may move to.
var transitions = map[State]stateSet{
	StateUninitialized:   set(StateInitializing),
	StateInitializing:    set(StateLoadingMetadata, StateError),
	StateLoadingMetadata: set(StateLoadingPlaylist, StateError),
	StateLoadingPlaylist: set(StateReady, StateError),
	StateReady:           set(StatePlaying, StateError),
	StatePlaying:         set(StatePaused, StateSeeking, StateBuffering, StateEnded, StateError),
	StatePaused:          set(StatePlaying, StateSeeking, StateError),
	StateSeeking:         set(StatePlaying, StateBuffering, StateError),
	StateBuffering:       set(StatePlaying, StateError),
	StateEnded:           set(StateLoadingPlaylist, StateUninitialized),
	StateError:           set(StateUninitialized),
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to State) bool {
	_, ok := transitions[from][to]
	return ok
}

// Machine holds the current state. Rejected transitions leave it unchanged
// and are only logged.
type Machine struct {
	logger zerolog.Logger

	mu    sync.Mutex
	state State

	subMu   sync.Mutex
	subs    []listener
	nextSub int
}

type listener struct {
	id int
	fn func(State)
}

// NewMachine returns a machine in StateUninitialized.
func NewMachine() *Machine {
	return &Machine{
		state:  StateUninitialized,
		logger: xglog.WithComponent("playback"),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the given state if the table allows it. Listeners
// are notified synchronously, in subscription order, after the change.
func (m *Machine) Transition(to State) bool {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		metrics.IncPlaybackTransition(string(to), false)
		m.logger.Warn().
			Str(xglog.FieldOldState, string(from)).
			Str(xglog.FieldNewState, string(to)).
			Str(xglog.FieldEvent, "playback.transition_rejected").
			Msg("invalid playback state transition")
		return false
	}
	m.state = to
	m.mu.Unlock()

	metrics.IncPlaybackTransition(string(to), true)
	m.logger.Debug().
		Str(xglog.FieldOldState, string(from)).
		Str(xglog.FieldNewState, string(to)).
		Msg("playback state changed")
	m.notify(to)
	return true
}

// Subscribe registers fn for accepted transitions and returns its disposer.
func (m *Machine) Subscribe(fn func(State)) func() {
	m.subMu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, listener{id: id, fn: fn})
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			for i, l := range m.subs {
				if l.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (m *Machine) notify(s State) {
	m.subMu.Lock()
	subs := append([]listener(nil), m.subs...)
	m.subMu.Unlock()
	for _, l := range subs {
		l.fn(s)
	}
}
