// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package registry is the in-memory index of offline downloads and their
// live progress that UI surfaces read from.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	xglog "github.com/ManuGH/offlinevod/internal/log"
)

const offlineModeSetting = "offline_mode"

// ErrNotInitialized is returned before a successful Initialize.
var ErrNotInitialized = errors.New("registry: not initialized")

// Store is the storage the registry loads from.
type Store interface {
	DetectAvailableBackend(ctx context.Context) (model.StorageBackend, error)
	ListDownloadRecords(ctx context.Context) ([]model.DownloadRecord, error)
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
}

// EventKind classifies a change notification.
type EventKind string

const (
	EventUpserted    EventKind = "upserted"
	EventProgress    EventKind = "progress"
	EventRemoved     EventKind = "removed"
	EventStatus      EventKind = "status"
	EventOfflineMode EventKind = "offline_mode"
	EventReloaded    EventKind = "reloaded"
)

// Event is delivered to subscribers after each change.
type Event struct {
	Kind EventKind
	ID   string // empty for offline_mode and reloaded
}

// Registry is safe for concurrent use. Subscribers are called
// synchronously, in subscription order, outside the lock.
type Registry struct {
	store  Store
	now    func() time.Time
	logger zerolog.Logger

	mu          sync.RWMutex
	initialized bool
	initErr     error
	backend     model.StorageBackend
	downloads   map[string]model.DownloadRecord
	progress    map[string]model.ProgressSnapshot
	offline     bool

	subMu   sync.Mutex
	subs    []subscription
	nextSub int
}

type subscription struct {
	id int
	fn func(Event)
}

// New returns an empty registry over store.
func New(store Store) *Registry {
	return &Registry{
		store:     store,
		now:       time.Now,
		logger:    xglog.WithComponent("registry"),
		downloads: make(map[string]model.DownloadRecord),
		progress:  make(map[string]model.ProgressSnapshot),
	}
}

// Initialize detects the storage backend, loads every record and restores
// the offline-mode flag. It runs once; later calls return nil after a
// success and retry after a failure.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.RLock()
	done := r.initialized
	r.mu.RUnlock()
	if done {
		return nil
	}

	backend, err := r.store.DetectAvailableBackend(ctx)
	if err != nil {
		return r.failInit(fmt.Errorf("registry: detect backend: %w", err))
	}
	recs, err := r.store.ListDownloadRecords(ctx)
	if err != nil {
		return r.failInit(fmt.Errorf("registry: load downloads: %w", err))
	}
	offline := false
	if v, ok, err := r.store.GetSetting(ctx, offlineModeSetting); err != nil {
		r.logger.Warn().Err(err).Msg("offline mode flag unreadable, defaulting to online")
	} else if ok {
		offline = v == "true"
	}

	r.mu.Lock()
	r.backend = backend
	r.downloads = make(map[string]model.DownloadRecord, len(recs))
	for _, rec := range recs {
		r.downloads[rec.ID] = rec.Clone()
	}
	r.offline = offline
	r.initialized = true
	r.initErr = nil
	r.mu.Unlock()

	r.logger.Info().
		Str(xglog.FieldEvent, "registry.initialized").
		Str(xglog.FieldBackend, string(backend)).
		Int("downloads", len(recs)).
		Bool("offline_mode", offline).
		Msg("download registry loaded")
	r.notify(Event{Kind: EventReloaded})
	return nil
}

func (r *Registry) failInit(err error) error {
	r.mu.Lock()
	r.initErr = err
	r.mu.Unlock()
	r.logger.Error().Err(err).Str(xglog.FieldEvent, "registry.init_failed").Msg("offline storage could not be initialized")
	return err
}

// Refresh reloads the records from storage.
func (r *Registry) Refresh(ctx context.Context) error {
	recs, err := r.store.ListDownloadRecords(ctx)
	if err != nil {
		return fmt.Errorf("registry: refresh: %w", err)
	}
	r.mu.Lock()
	r.downloads = make(map[string]model.DownloadRecord, len(recs))
	for _, rec := range recs {
		r.downloads[rec.ID] = rec.Clone()
	}
	r.mu.Unlock()
	r.notify(Event{Kind: EventReloaded})
	return nil
}

// StorageBackend is the backend new downloads are written to.
func (r *Registry) StorageBackend() (model.StorageBackend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		if r.initErr != nil {
			return "", r.initErr
		}
		return "", ErrNotInitialized
	}
	return r.backend, nil
}

// InitializationError is the last Initialize failure, nil after success.
func (r *Registry) InitializationError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initErr
}

// Upsert inserts or replaces a record.
func (r *Registry) Upsert(rec model.DownloadRecord) {
	r.mu.Lock()
	r.downloads[rec.ID] = rec.Clone()
	r.mu.Unlock()
	r.notify(Event{Kind: EventUpserted, ID: rec.ID})
}

// SetProgress merges update into the stored snapshot for update.ID.
// Optional fields left nil keep their previous value.
func (r *Registry) SetProgress(update model.ProgressSnapshot) {
	r.mu.Lock()
	cur := r.progress[update.ID]
	cur.ID = update.ID
	cur.DownloadedSegments = update.DownloadedSegments
	cur.DownloadedBytes = update.DownloadedBytes
	cur.TotalSegments = update.TotalSegments
	if update.TotalBytesEstimate != nil {
		cur.TotalBytesEstimate = int64Ptr(*update.TotalBytesEstimate)
	}
	if update.StartTime != nil {
		cur.StartTime = int64Ptr(*update.StartTime)
	}
	if update.EstimatedRemainingMS != nil {
		cur.EstimatedRemainingMS = int64Ptr(*update.EstimatedRemainingMS)
	}
	r.progress[update.ID] = cur
	r.mu.Unlock()
	r.notify(Event{Kind: EventProgress, ID: update.ID})
}

// ClearProgress drops the snapshot for id. Unknown ids are ignored.
func (r *Registry) ClearProgress(id string) {
	r.mu.Lock()
	_, ok := r.progress[id]
	delete(r.progress, id)
	r.mu.Unlock()
	if ok {
		r.notify(Event{Kind: EventProgress, ID: id})
	}
}

// Remove drops the record and its progress.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.downloads, id)
	delete(r.progress, id)
	r.mu.Unlock()
	r.notify(Event{Kind: EventRemoved, ID: id})
}

// UpdateStatus sets the status of a known record and stamps updated_at.
func (r *Registry) UpdateStatus(id string, status model.Status) {
	r.mu.Lock()
	rec, ok := r.downloads[id]
	if ok {
		rec.Status = status
		rec.Touch(r.now())
		r.downloads[id] = rec
	}
	r.mu.Unlock()
	if ok {
		r.notify(Event{Kind: EventStatus, ID: id})
	}
}

// Get returns a copy of one record.
func (r *Registry) Get(id string) (model.DownloadRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.downloads[id]
	if !ok {
		return model.DownloadRecord{}, false
	}
	return rec.Clone(), true
}

// Progress returns the live snapshot of an active job.
func (r *Registry) Progress(id string) (model.ProgressSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.progress[id]
	return p, ok
}

// Downloads returns every record, most recently updated first.
func (r *Registry) Downloads() []model.DownloadRecord {
	r.mu.RLock()
	out := make([]model.DownloadRecord, 0, len(r.downloads))
	for _, rec := range r.downloads {
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := parseTime(out[i].UpdatedAt), parseTime(out[j].UpdatedAt)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveDownloads returns the records in status downloading.
func (r *Registry) ActiveDownloads() []model.DownloadRecord {
	all := r.Downloads()
	out := all[:0]
	for _, rec := range all {
		if rec.Status == model.StatusDownloading {
			out = append(out, rec)
		}
	}
	return out
}

// OfflineMode reports whether upstream access is disabled.
func (r *Registry) OfflineMode() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.offline
}

// SetOfflineMode updates and persists the offline-mode flag. The in-memory
// flag changes even when persisting fails.
func (r *Registry) SetOfflineMode(ctx context.Context, enabled bool) error {
	r.mu.Lock()
	changed := r.offline != enabled
	r.offline = enabled
	r.mu.Unlock()

	err := r.store.PutSetting(ctx, offlineModeSetting, fmt.Sprintf("%t", enabled))
	if changed {
		r.notify(Event{Kind: EventOfflineMode})
	}
	if err != nil {
		return fmt.Errorf("registry: persist offline mode: %w", err)
	}
	return nil
}

// CheckServerConnection probes upstream while offline mode is on and turns
// it off once the probe succeeds. It reports whether upstream is usable.
func (r *Registry) CheckServerConnection(ctx context.Context, probe func(context.Context) error) bool {
	if !r.OfflineMode() {
		return true
	}
	if err := probe(ctx); err != nil {
		r.logger.Debug().Err(err).Msg("server still unreachable, staying offline")
		return false
	}
	r.logger.Info().Str(xglog.FieldEvent, "registry.online").Msg("server connection restored, leaving offline mode")
	if err := r.SetOfflineMode(ctx, false); err != nil {
		r.logger.Warn().Err(err).Msg("offline mode flag not persisted")
	}
	return true
}

// Subscribe registers fn for change events and returns its disposer.
func (r *Registry) Subscribe(fn func(Event)) func() {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs = append(r.subs, subscription{id: id, fn: fn})
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			defer r.subMu.Unlock()
			for i, s := range r.subs {
				if s.id == id {
					r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (r *Registry) notify(ev Event) {
	r.subMu.Lock()
	subs := make([]subscription, len(r.subs))
	copy(subs, r.subs)
	r.subMu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func int64Ptr(v int64) *int64 { return &v }
