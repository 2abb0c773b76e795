// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package storage persists offline downloads. Records, side-channel data,
// thumbnails and settings live in a SQLite catalog; manifests and segments
// live in the media backend named by each record.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	xglog "github.com/ManuGH/offlinevod/internal/log"
	"github.com/ManuGH/offlinevod/internal/persistence/sqlite"
)

// DefaultPreference is the backend probe order.
var DefaultPreference = []model.StorageBackend{model.BackendFS, model.BackendKV, model.BackendCache}

// ErrNoBackend is returned when no media backend can be opened.
var ErrNoBackend = errors.New("storage: no available offline storage backend")

// ErrClosed is returned by catalog operations on a Store closed before
// its catalog was first opened.
var ErrClosed = errors.New("storage: store is closed")

// Options configures a Store. Empty paths default under DataDir.
type Options struct {
	DataDir     string
	CatalogPath string
	FSRoot      string
	KVDir       string
	Redis       RedisConfig // empty Addr disables the cache backend
	Preferred   []model.StorageBackend
	Logger      *zerolog.Logger
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.CatalogPath == "" {
		o.CatalogPath = filepath.Join(o.DataDir, "catalog.sqlite")
	}
	if o.FSRoot == "" {
		o.FSRoot = filepath.Join(o.DataDir, "media")
	}
	if o.KVDir == "" {
		o.KVDir = filepath.Join(o.DataDir, "kv")
	}
	if len(o.Preferred) == 0 {
		o.Preferred = DefaultPreference
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Store is the storage facade shared by the engine, the registry and the
// interception layer. The catalog and each media backend are opened on
// first use and kept for the life of the Store.
type Store struct {
	opts   Options
	logger zerolog.Logger

	catalogOnce sync.Once
	catalog     *catalog
	catalogErr  error

	mu       sync.Mutex
	backends map[model.StorageBackend]MediaBackend
	openers  map[model.StorageBackend]func(context.Context) (MediaBackend, error)
}

// Option customizes a Store.
type Option func(*Store)

// WithBackend registers an already opened media backend.
func WithBackend(b MediaBackend) Option {
	return func(s *Store) { s.backends[b.Kind()] = b }
}

// New returns a Store. Nothing is opened until first use.
func New(opts Options, options ...Option) *Store {
	opts = opts.withDefaults()
	logger := xglog.WithComponent("storage")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Store{
		opts:     opts,
		logger:   logger,
		backends: make(map[model.StorageBackend]MediaBackend),
	}
	s.openers = map[model.StorageBackend]func(context.Context) (MediaBackend, error){
		model.BackendFS: func(context.Context) (MediaBackend, error) {
			return OpenFSBackend(s.opts.FSRoot)
		},
		model.BackendKV: func(context.Context) (MediaBackend, error) {
			if err := os.MkdirAll(s.opts.KVDir, dirPerm); err != nil {
				return nil, err
			}
			return OpenKVBackend(s.opts.KVDir)
		},
		model.BackendCache: func(ctx context.Context) (MediaBackend, error) {
			if s.opts.Redis.Addr == "" {
				return nil, errors.New("cache backend: redis address not configured")
			}
			return OpenCacheBackend(ctx, s.opts.Redis)
		},
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Close releases the catalog and every opened backend.
func (s *Store) Close() error {
	var errs []error
	s.mu.Lock()
	for kind, b := range s.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", kind, err))
		}
	}
	s.backends = make(map[model.StorageBackend]MediaBackend)
	s.mu.Unlock()

	// Waits for an in-flight open, or keeps a later one from happening.
	s.catalogOnce.Do(func() { s.catalogErr = ErrClosed })
	if s.catalog != nil {
		if err := s.catalog.close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalog: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) cat(ctx context.Context) (*catalog, error) {
	s.catalogOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(s.opts.CatalogPath), dirPerm); err != nil {
			s.catalogErr = fmt.Errorf("catalog: create dir: %w", err)
			return
		}
		s.catalog, s.catalogErr = openCatalog(ctx, s.opts.CatalogPath)
	})
	return s.catalog, s.catalogErr
}

func (s *Store) backend(ctx context.Context, kind model.StorageBackend) (MediaBackend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.backends[kind]; ok {
		return b, nil
	}
	open, ok := s.openers[kind]
	if !ok {
		return nil, fmt.Errorf("storage: unknown backend %q", kind)
	}
	b, err := open(ctx)
	if err != nil {
		return nil, err
	}
	s.backends[kind] = b
	return b, nil
}

func storageErr(op string, backend model.StorageBackend, err error) error {
	if err == nil {
		return nil
	}
	return &model.StorageError{Op: op, Backend: backend, Err: err}
}

// --- records ---

// PutDownloadRecord inserts or replaces rec.
func (s *Store) PutDownloadRecord(ctx context.Context, rec model.DownloadRecord) error {
	c, err := s.cat(ctx)
	if err != nil {
		return err
	}
	rec = rec.Clone()
	rec.Normalize()
	if rec.UpdatedAt == "" {
		rec.Touch(s.opts.Now())
	}
	return storageErr("put_record", "catalog", c.putRecord(ctx, c.db, rec))
}

// GetDownloadRecord returns ok=false for an unknown id.
func (s *Store) GetDownloadRecord(ctx context.Context, id string) (model.DownloadRecord, bool, error) {
	c, err := s.cat(ctx)
	if err != nil {
		return model.DownloadRecord{}, false, err
	}
	rec, ok, err := c.getRecord(ctx, c.db, id)
	return rec, ok, storageErr("get_record", "catalog", err)
}

// ListDownloadRecords returns every record, most recently updated first.
func (s *Store) ListDownloadRecords(ctx context.Context) ([]model.DownloadRecord, error) {
	c, err := s.cat(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := c.listRecords(ctx)
	if err != nil {
		return nil, storageErr("list_records", "catalog", err)
	}
	// Stored millis lose sub-millisecond order.
	sort.SliceStable(recs, func(i, j int) bool { return updatedAt(recs[i]).After(updatedAt(recs[j])) })
	return recs, nil
}

func updatedAt(r model.DownloadRecord) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	return t
}

// UpdateDownloadRecord applies fn to the stored record and stamps
// updated_at. It returns model.ErrNotFound for an unknown id.
func (s *Store) UpdateDownloadRecord(ctx context.Context, id string, fn func(*model.DownloadRecord)) (model.DownloadRecord, error) {
	c, err := s.cat(ctx)
	if err != nil {
		return model.DownloadRecord{}, err
	}
	rec, err := c.updateRecord(ctx, id, s.opts.Now(), fn)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return model.DownloadRecord{}, storageErr("update_record", "catalog", err)
	}
	return rec, err
}

// DeleteDownloadRecord removes the record only.
func (s *Store) DeleteDownloadRecord(ctx context.Context, id string) error {
	c, err := s.cat(ctx)
	if err != nil {
		return err
	}
	return storageErr("delete_record", "catalog", c.deleteRecord(ctx, id))
}

// --- media ---

// WriteManifest stores the rewritten manifest on rec's backend.
func (s *Store) WriteManifest(ctx context.Context, rec model.DownloadRecord, text string) error {
	b, err := s.backend(ctx, rec.StorageBackend)
	if err != nil {
		return storageErr("write_manifest", rec.StorageBackend, err)
	}
	return storageErr("write_manifest", rec.StorageBackend, b.WriteManifest(ctx, rec.ID, text))
}

// ReadManifest returns ok=false when the manifest is absent.
func (s *Store) ReadManifest(ctx context.Context, rec model.DownloadRecord) (string, bool, error) {
	b, err := s.backend(ctx, rec.StorageBackend)
	if err != nil {
		return "", false, storageErr("read_manifest", rec.StorageBackend, err)
	}
	text, ok, err := b.ReadManifest(ctx, rec.ID)
	return text, ok, storageErr("read_manifest", rec.StorageBackend, err)
}

// WriteSegment stores one segment body on rec's backend.
func (s *Store) WriteSegment(ctx context.Context, rec model.DownloadRecord, sequence int, data []byte) error {
	b, err := s.backend(ctx, rec.StorageBackend)
	if err != nil {
		return storageErr("write_segment", rec.StorageBackend, err)
	}
	return storageErr("write_segment", rec.StorageBackend, b.WriteSegment(ctx, rec.ID, sequence, data))
}

// ReadSegment returns ok=false when the segment is absent.
func (s *Store) ReadSegment(ctx context.Context, rec model.DownloadRecord, sequence int) ([]byte, bool, error) {
	b, err := s.backend(ctx, rec.StorageBackend)
	if err != nil {
		return nil, false, storageErr("read_segment", rec.StorageBackend, err)
	}
	data, ok, err := b.ReadSegment(ctx, rec.ID, sequence)
	return data, ok, storageErr("read_segment", rec.StorageBackend, err)
}

// --- side channel, thumbnails, settings ---

func (s *Store) WriteSideChannel(ctx context.Context, downloadID string, comments []model.Comment) error {
	c, err := s.cat(ctx)
	if err != nil {
		return err
	}
	return storageErr("write_side_channel", "catalog", c.putSideChannel(ctx, downloadID, comments))
}

func (s *Store) ReadSideChannel(ctx context.Context, downloadID string) ([]model.Comment, bool, error) {
	c, err := s.cat(ctx)
	if err != nil {
		return nil, false, err
	}
	out, ok, err := c.getSideChannel(ctx, downloadID)
	return out, ok, storageErr("read_side_channel", "catalog", err)
}

func (s *Store) WriteThumbnail(ctx context.Context, downloadID string, thumb model.Thumbnail) error {
	c, err := s.cat(ctx)
	if err != nil {
		return err
	}
	return storageErr("write_thumbnail", "catalog", c.putThumbnail(ctx, downloadID, thumb))
}

func (s *Store) ReadThumbnail(ctx context.Context, downloadID string) (model.Thumbnail, bool, error) {
	c, err := s.cat(ctx)
	if err != nil {
		return model.Thumbnail{}, false, err
	}
	t, ok, err := c.getThumbnail(ctx, downloadID)
	return t, ok, storageErr("read_thumbnail", "catalog", err)
}

// GetSetting reads a catalog setting.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	c, err := s.cat(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok, err := c.getSetting(ctx, key)
	return v, ok, storageErr("get_setting", "catalog", err)
}

// PutSetting writes a catalog setting.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	c, err := s.cat(ctx)
	if err != nil {
		return err
	}
	return storageErr("put_setting", "catalog", c.putSetting(ctx, key, value))
}

// --- lifecycle ---

// RemoveDownload deletes everything stored for rec. Media, side-channel and
// thumbnail deletions are best effort: each failure is logged and collected.
// The record deletion runs last and always; the collected errors are joined
// with its result.
func (s *Store) RemoveDownload(ctx context.Context, rec model.DownloadRecord) error {
	logger := s.logger.With().Str(xglog.FieldDownloadID, rec.ID).Str(xglog.FieldBackend, string(rec.StorageBackend)).Logger()
	var errs []error
	collect := func(op string, err error) {
		if err == nil {
			return
		}
		logger.Warn().Err(err).Str(xglog.FieldEvent, "storage.remove_partial").Str("op", op).Msg("removal step failed")
		errs = append(errs, fmt.Errorf("%s: %w", op, err))
	}

	if b, err := s.backend(ctx, rec.StorageBackend); err != nil {
		collect("remove_media", storageErr("open", rec.StorageBackend, err))
	} else {
		collect("remove_media", storageErr("remove", rec.StorageBackend, b.Remove(ctx, rec.ID, removalSequences(rec))))
	}

	if c, err := s.cat(ctx); err != nil {
		collect("catalog", err)
	} else {
		collect("remove_side_channel", c.deleteSideChannel(ctx, rec.ID))
		collect("remove_thumbnail", c.deleteThumbnail(ctx, rec.ID))
	}

	if err := s.DeleteDownloadRecord(ctx, rec.ID); err != nil {
		errs = append([]error{err}, errs...)
	}
	if len(errs) == 0 {
		logger.Info().Str(xglog.FieldEvent, "storage.removed").Msg("download removed")
	}
	return errors.Join(errs...)
}

// removalSequences is [0, segment_count) plus every listed sequence.
func removalSequences(rec model.DownloadRecord) []int {
	seen := make(map[int]struct{}, rec.SegmentCount+len(rec.Segments))
	out := make([]int, 0, rec.SegmentCount+len(rec.Segments))
	add := func(seq int) {
		if _, ok := seen[seq]; ok {
			return
		}
		seen[seq] = struct{}{}
		out = append(out, seq)
	}
	for i := 0; i < rec.SegmentCount; i++ {
		add(i)
	}
	for _, sd := range rec.Segments {
		add(sd.Sequence)
	}
	sort.Ints(out)
	return out
}

// DetectAvailableBackend probes backends in preference order and returns
// the first that opens.
func (s *Store) DetectAvailableBackend(ctx context.Context) (model.StorageBackend, error) {
	var errs []error
	for _, kind := range s.opts.Preferred {
		if _, err := s.backend(ctx, kind); err != nil {
			s.logger.Debug().Err(err).Str(xglog.FieldBackend, string(kind)).Msg("backend unavailable")
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		return kind, nil
	}
	return "", fmt.Errorf("%w: %w", ErrNoBackend, errors.Join(errs...))
}

// Estimate is the storage usage report.
type Estimate struct {
	CatalogBytes int64                           `json:"catalog_bytes"`
	Backends     map[model.StorageBackend]int64  `json:"backends"`
	Unavailable  map[model.StorageBackend]string `json:"unavailable,omitempty"`
	TotalBytes   int64                           `json:"total_bytes"`
}

// Estimate reports bytes held by the catalog and each opened backend.
// Backends that were never opened are not opened here.
func (s *Store) Estimate(ctx context.Context) (Estimate, error) {
	est := Estimate{Backends: make(map[model.StorageBackend]int64)}

	if info, err := os.Stat(s.opts.CatalogPath); err == nil {
		est.CatalogBytes = info.Size()
	}

	s.mu.Lock()
	opened := make([]MediaBackend, 0, len(s.backends))
	for _, b := range s.backends {
		opened = append(opened, b)
	}
	s.mu.Unlock()

	for _, b := range opened {
		n, err := b.Usage(ctx)
		if err != nil {
			if est.Unavailable == nil {
				est.Unavailable = make(map[model.StorageBackend]string)
			}
			est.Unavailable[b.Kind()] = err.Error()
			continue
		}
		est.Backends[b.Kind()] = n
		est.TotalBytes += n
	}
	est.TotalBytes += est.CatalogBytes
	return est, nil
}

// VerifyCatalog runs an integrity check on the catalog database.
func (s *Store) VerifyCatalog(ctx context.Context, full bool) ([]string, error) {
	c, err := s.cat(ctx)
	if err != nil {
		return nil, err
	}
	mode := sqlite.CheckQuick
	if full {
		mode = sqlite.CheckFull
	}
	return c.verify(ctx, mode)
}
