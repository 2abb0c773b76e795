// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package downloader runs offline download jobs: manifest fetch and
// rewrite, sequential segment download with resume, side-channel comments
// and thumbnail.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	xglog "github.com/ManuGH/offlinevod/internal/log"
	"github.com/ManuGH/offlinevod/internal/manifest"
	"github.com/ManuGH/offlinevod/internal/metrics"
	"github.com/ManuGH/offlinevod/internal/retry"
	"github.com/ManuGH/offlinevod/internal/telemetry"
)

var (
	// ErrAlreadyActive is returned when a job for the id is running.
	ErrAlreadyActive = errors.New("downloader: download already active")
	// ErrNotResumable is returned for a record that is neither paused nor failed.
	ErrNotResumable = errors.New("downloader: download is not resumable")
	// ErrNoBackend is returned when no storage backend could be selected.
	ErrNoBackend = errors.New("downloader: offline storage backend is not available")
)

// Source is the upstream network collaborator.
type Source interface {
	FetchManifest(ctx context.Context, videoID int, qualityPath, sessionID string) (string, error)
	FetchSegment(ctx context.Context, videoID int, qualityPath, sessionID, cacheToken string, sequence int) ([]byte, error)
	FetchComments(ctx context.Context, videoID int) (model.CommentsResult, error)
	FetchThumbnail(ctx context.Context, recordedVideoID int) (model.Thumbnail, error)
}

// Store is the subset of storage the engine writes through.
type Store interface {
	PutDownloadRecord(ctx context.Context, rec model.DownloadRecord) error
	GetDownloadRecord(ctx context.Context, id string) (model.DownloadRecord, bool, error)
	UpdateDownloadRecord(ctx context.Context, id string, fn func(*model.DownloadRecord)) (model.DownloadRecord, error)
	WriteManifest(ctx context.Context, rec model.DownloadRecord, text string) error
	ReadSegment(ctx context.Context, rec model.DownloadRecord, sequence int) ([]byte, bool, error)
	WriteSegment(ctx context.Context, rec model.DownloadRecord, sequence int, data []byte) error
	WriteSideChannel(ctx context.Context, downloadID string, comments []model.Comment) error
	WriteThumbnail(ctx context.Context, downloadID string, thumb model.Thumbnail) error
	RemoveDownload(ctx context.Context, rec model.DownloadRecord) error
}

// Registry receives record and progress updates.
type Registry interface {
	StorageBackend() (model.StorageBackend, error)
	Upsert(rec model.DownloadRecord)
	SetProgress(update model.ProgressSnapshot)
	ClearProgress(id string)
	Remove(id string)
}

// Options selects what to download.
type Options struct {
	Quality      string
	IsHEVC       bool
	SaveComments bool
}

// Config tunes the engine. Zero values use defaults.
type Config struct {
	Retry retry.Policy
	Now   func() time.Time
	NewID func() string
}

// Result is the outcome of an asynchronous job.
type Result struct {
	Record model.DownloadRecord
	Err    error
}

// Engine owns the per-job cancellation tokens. Jobs for different ids run
// concurrently; segments within a job are fetched one at a time.
type Engine struct {
	source   Source
	store    Store
	registry Registry
	cfg      Config
	logger   zerolog.Logger

	// root bounds every job; Shutdown cancels it.
	root     context.Context
	stopRoot context.CancelFunc
	wg       sync.WaitGroup

	mu     sync.Mutex
	active map[string]activeJob
}

// activeJob is the cancellation token of a running job. done closes when
// the job releases the token.
type activeJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an engine.
func New(source Source, store Store, registry Registry, cfg Config) *Engine {
	if len(cfg.Retry.Delays) == 0 {
		cfg.Retry.Delays = retry.DefaultPolicy().Delays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	root, stop := context.WithCancel(context.Background())
	return &Engine{
		source:   source,
		store:    store,
		registry: registry,
		cfg:      cfg,
		logger:   xglog.WithComponent("downloader"),
		root:     root,
		stopRoot: stop,
		active:   make(map[string]activeJob),
	}
}

type job struct {
	rec       model.DownloadRecord
	sessionID string
	resume    bool
	ctx       context.Context
	logger    zerolog.Logger
}

// StartDownload runs a new job to completion and returns the final record.
func (e *Engine) StartDownload(ctx context.Context, program model.Program, opts Options) (model.DownloadRecord, error) {
	j, err := e.prepareStart(ctx, ctx, program, opts)
	if err != nil {
		return model.DownloadRecord{}, err
	}
	return e.run(j)
}

// StartDownloadAsync persists the initial record and runs the job in the
// background. The job outlives ctx and ends on CancelDownload or Shutdown.
func (e *Engine) StartDownloadAsync(ctx context.Context, program model.Program, opts Options) (model.DownloadRecord, <-chan Result, error) {
	j, err := e.prepareStart(ctx, context.WithoutCancel(ctx), program, opts)
	if err != nil {
		return model.DownloadRecord{}, nil, err
	}
	return j.rec.Clone(), e.goRun(j), nil
}

// ResumeDownload re-runs a paused or failed record under its original id
// with a fresh session id. Segments already stored are not fetched again.
func (e *Engine) ResumeDownload(ctx context.Context, id string) (model.DownloadRecord, error) {
	j, err := e.prepareResume(ctx, ctx, id)
	if err != nil {
		return model.DownloadRecord{}, err
	}
	return e.run(j)
}

// ResumeDownloadAsync is ResumeDownload in the background.
func (e *Engine) ResumeDownloadAsync(ctx context.Context, id string) (model.DownloadRecord, <-chan Result, error) {
	j, err := e.prepareResume(ctx, context.WithoutCancel(ctx), id)
	if err != nil {
		return model.DownloadRecord{}, nil, err
	}
	return j.rec.Clone(), e.goRun(j), nil
}

func (e *Engine) goRun(j *job) <-chan Result {
	out := make(chan Result, 1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		rec, err := e.run(j)
		out <- Result{Record: rec, Err: err}
		close(out)
	}()
	return out
}

// CancelDownload signals the job for id. Unknown ids are ignored.
func (e *Engine) CancelDownload(id string) {
	e.cancel(id)
}

// cancel signals the job for id and returns the channel closed on its
// release, or nil when no job is running.
func (e *Engine) cancel(id string) <-chan struct{} {
	e.mu.Lock()
	aj, ok := e.active[id]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	e.logger.Info().Str(xglog.FieldDownloadID, id).Str(xglog.FieldEvent, "download.cancel_requested").Msg("cancelling download")
	aj.cancel()
	return aj.done
}

// Active lists the ids of running jobs.
func (e *Engine) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsActive reports whether a job for id is running.
func (e *Engine) IsActive(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[id]
	return ok
}

// RemoveDownload cancels a running job for id, waits for it to release its
// token, then deletes everything stored for it.
func (e *Engine) RemoveDownload(ctx context.Context, id string) error {
	if done := e.cancel(id); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	rec, ok, err := e.store.GetDownloadRecord(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		e.registry.Remove(id)
		return fmt.Errorf("%w: download %s", model.ErrNotFound, id)
	}
	err = e.store.RemoveDownload(ctx, rec)
	e.registry.Remove(id)
	return err
}

// Shutdown cancels every job and waits for background jobs to settle.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopRoot()
	e.mu.Lock()
	for _, aj := range e.active {
		aj.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// register claims the cancellation token for id. The job context ends on
// CancelDownload, Shutdown or when parent ends.
func (e *Engine) register(parent context.Context, id string) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyActive, id)
	}
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(e.root, cancel)
	e.active[id] = activeJob{
		cancel: func() {
			stop()
			cancel()
		},
		done: make(chan struct{}),
	}
	return ctx, nil
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	aj, ok := e.active[id]
	delete(e.active, id)
	e.mu.Unlock()
	if ok {
		aj.cancel()
		close(aj.done)
	}
}

func (e *Engine) prepareStart(ctx, parent context.Context, program model.Program, opts Options) (*job, error) {
	backend, err := e.registry.StorageBackend()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoBackend, err)
	}

	now := model.Timestamp(e.cfg.Now())
	rec := model.DownloadRecord{
		ID:             e.cfg.NewID(),
		VideoID:        program.ID,
		Quality:        opts.Quality,
		IsHEVC:         opts.IsHEVC,
		SaveComments:   model.Bool(opts.SaveComments),
		StorageBackend: backend,
		Status:         model.StatusDownloading,
		Program:        model.SnapshotProgram(program),
		Segments:       []model.SegmentDescriptor{},
		CreatedAt:      now,
		UpdatedAt:      now,
		ManifestPath:   model.ManifestFilename,
		HasThumbnail:   model.Bool(false),
	}

	jobCtx, err := e.register(parent, rec.ID)
	if err != nil {
		return nil, err
	}
	if err := e.store.PutDownloadRecord(ctx, rec); err != nil {
		e.release(rec.ID)
		return nil, err
	}
	e.registry.Upsert(rec)

	return e.newJob(jobCtx, rec, false), nil
}

func (e *Engine) prepareResume(ctx, parent context.Context, id string) (*job, error) {
	rec, ok, err := e.store.GetDownloadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: download %s", model.ErrNotFound, id)
	}
	if !rec.Status.Resumable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotResumable, id, rec.Status)
	}

	jobCtx, err := e.register(parent, id)
	if err != nil {
		return nil, err
	}
	rec, err = e.store.UpdateDownloadRecord(ctx, id, func(r *model.DownloadRecord) {
		r.Status = model.StatusDownloading
		r.DownloadedBytes = 0
		r.TotalBytes = 0
	})
	if err != nil {
		e.release(id)
		return nil, err
	}
	e.registry.Upsert(rec)

	return e.newJob(jobCtx, rec, true), nil
}

func (e *Engine) newJob(ctx context.Context, rec model.DownloadRecord, resume bool) *job {
	ctx = xglog.ContextWithDownloadID(ctx, rec.ID)
	return &job{
		rec:       rec,
		sessionID: e.cfg.NewID(),
		resume:    resume,
		ctx:       ctx,
		logger: e.logger.With().
			Str(xglog.FieldDownloadID, rec.ID).
			Int(xglog.FieldVideoID, rec.VideoID).
			Str(xglog.FieldQuality, rec.QualityPath()).
			Str(xglog.FieldBackend, string(rec.StorageBackend)).
			Logger(),
	}
}

// run executes steps 4 onward and settles the terminal status. The token
// is released on every path.
func (e *Engine) run(j *job) (model.DownloadRecord, error) {
	defer e.release(j.rec.ID)

	ctx, span := telemetry.Tracer("offlinevod.downloader").Start(j.ctx, "download.run",
		trace.WithAttributes(telemetry.DownloadAttributes(j.rec.ID, j.rec.VideoID, j.rec.QualityPath(), string(j.rec.StorageBackend), j.resume)...))
	defer span.End()

	metrics.IncDownloadStarted(j.resume)
	j.logger.Info().Str(xglog.FieldEvent, "download.start").Bool("resume", j.resume).Msg("download started")

	rec, err := e.execute(ctx, j)
	if err == nil {
		metrics.IncDownloadFinished(string(model.StatusCompleted))
		j.logger.Info().
			Str(xglog.FieldEvent, "download.completed").
			Int(xglog.FieldSegments, rec.SegmentCount).
			Int64(xglog.FieldBytes, rec.DownloadedBytes).
			Msg("download completed")
		return rec, nil
	}

	status := model.StatusError
	if model.IsAborted(err) {
		status = model.StatusPaused
	}
	// The terminal status is the one write allowed after abort.
	final, perr := e.store.UpdateDownloadRecord(context.WithoutCancel(ctx), j.rec.ID, func(r *model.DownloadRecord) {
		r.Status = status
	})
	if perr != nil {
		j.logger.Error().Err(perr).Str(xglog.FieldStatus, string(status)).Msg("failed to persist terminal status")
		final = rec
		final.Status = status
	}
	e.registry.Upsert(final)
	metrics.IncDownloadFinished(string(status))

	if status == model.StatusPaused {
		j.logger.Info().Str(xglog.FieldEvent, "download.paused").Msg("download aborted")
	} else {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		j.logger.Error().Err(err).Str(xglog.FieldEvent, "download.failed").Msg("download failed")
	}
	return final, err
}

func (e *Engine) execute(ctx context.Context, j *job) (model.DownloadRecord, error) {
	rec := j.rec
	policy := e.cfg.Retry
	policy.Logger = &j.logger

	text, err := retry.Do(ctx, policy, "manifest", func(ctx context.Context) (string, error) {
		return e.source.FetchManifest(ctx, rec.VideoID, rec.QualityPath(), j.sessionID)
	})
	if err != nil {
		return rec, err
	}
	parsed, err := manifest.Parse(text)
	if err != nil {
		return rec, err
	}
	if len(parsed.Segments) == 0 {
		return rec, fmt.Errorf("%w: playlist does not contain any segments", model.ErrMalformedManifest)
	}
	rewritten, err := manifest.Rewrite(text, rec.ID, parsed.Segments)
	if err != nil {
		return rec, err
	}

	if err := checkAbort(ctx, "manifest"); err != nil {
		return rec, err
	}
	updated, err := e.store.UpdateDownloadRecord(ctx, rec.ID, func(r *model.DownloadRecord) {
		r.TargetDuration = parsed.TargetDuration
		r.SegmentCount = len(parsed.Segments)
		r.Segments = append([]model.SegmentDescriptor(nil), parsed.Segments...)
	})
	if err != nil {
		return rec, err
	}
	rec = updated
	e.registry.Upsert(rec)

	if err := checkAbort(ctx, "manifest"); err != nil {
		return rec, err
	}
	if err := e.store.WriteManifest(ctx, rec, rewritten); err != nil {
		return rec, err
	}

	started := e.cfg.Now()
	startMS := started.UnixMilli()
	progress := model.ProgressSnapshot{
		ID:                 rec.ID,
		TotalSegments:      rec.SegmentCount,
		TotalBytesEstimate: int64Ptr(0),
		StartTime:          &startMS,
	}
	e.registry.SetProgress(progress)

	for _, seg := range parsed.Segments {
		label := fmt.Sprintf("segment#%d", seg.Sequence)
		if err := checkAbort(ctx, label); err != nil {
			return rec, err
		}

		data, ok, err := e.store.ReadSegment(ctx, rec, seg.Sequence)
		if err != nil {
			return rec, err
		}
		if !ok {
			fetchStart := time.Now()
			data, err = retry.Do(ctx, policy, label, func(ctx context.Context) ([]byte, error) {
				return e.source.FetchSegment(ctx, rec.VideoID, rec.QualityPath(), j.sessionID, parsed.CacheToken, seg.Sequence)
			})
			if err != nil {
				return rec, err
			}
			if err := checkAbort(ctx, label); err != nil {
				return rec, err
			}
			if err := e.store.WriteSegment(ctx, rec, seg.Sequence, data); err != nil {
				return rec, err
			}
			metrics.ObserveSegmentStored(string(rec.StorageBackend), len(data), time.Since(fetchStart))
			trace.SpanFromContext(ctx).AddEvent("segment.stored", trace.WithAttributes(telemetry.SegmentAttributes(seg.Sequence, len(data))...))
		} else {
			j.logger.Debug().Int(xglog.FieldSequence, seg.Sequence).Msg("segment already stored, skipping fetch")
		}

		if err := checkAbort(ctx, label); err != nil {
			return rec, err
		}
		size := int64(len(data))
		updated, err := e.store.UpdateDownloadRecord(ctx, rec.ID, func(r *model.DownloadRecord) {
			r.DownloadedBytes += size
			r.TotalBytes += size
		})
		if err != nil {
			return rec, err
		}
		rec = updated
		e.registry.Upsert(rec)

		progress.DownloadedSegments++
		progress.DownloadedBytes = rec.DownloadedBytes
		estimateProgress(&progress, e.cfg.Now().Sub(started))
		e.registry.SetProgress(progress)
	}

	// Every segment is stored. Side-channel steps are best effort and an
	// abort from here on only skips them.
	if rec.WantsComments() {
		e.saveComments(ctx, j, rec)
	}
	rec = e.saveThumbnail(ctx, j, rec)

	updated, err = e.store.UpdateDownloadRecord(context.WithoutCancel(ctx), rec.ID, func(r *model.DownloadRecord) {
		r.Status = model.StatusCompleted
	})
	if err != nil {
		return rec, err
	}
	e.registry.Upsert(updated)
	e.registry.ClearProgress(updated.ID)
	return updated, nil
}

// estimateProgress derives the total size from the mean segment size so far
// and the remaining time from the observed segment rate.
func estimateProgress(p *model.ProgressSnapshot, elapsed time.Duration) {
	if p.DownloadedSegments == 0 {
		return
	}
	avg := float64(p.DownloadedBytes) / float64(p.DownloadedSegments)
	p.TotalBytesEstimate = int64Ptr(int64(math.Round(avg * float64(p.TotalSegments))))

	remaining := p.TotalSegments - p.DownloadedSegments
	if remaining <= 0 {
		p.EstimatedRemainingMS = int64Ptr(0)
		return
	}
	elapsedMS := float64(elapsed.Milliseconds())
	if elapsedMS < 1 {
		elapsedMS = 1
	}
	rate := float64(p.DownloadedSegments) / elapsedMS
	p.EstimatedRemainingMS = int64Ptr(int64(math.Round(float64(remaining) / rate)))
}

func (e *Engine) saveComments(ctx context.Context, j *job, rec model.DownloadRecord) {
	logger := j.logger.With().Str(xglog.FieldEvent, "download.comments").Logger()

	if ctx.Err() != nil {
		logger.Info().Msg("download aborted, skipping comments")
		return
	}
	result, err := e.source.FetchComments(ctx, rec.VideoID)
	if err != nil {
		if model.IsAborted(err) || ctx.Err() != nil {
			logger.Info().Err(err).Msg("download aborted while fetching comments")
			return
		}
		logger.Warn().Err(err).Msg("failed to fetch comments, continuing")
		return
	}
	if !result.Success || len(result.Comments) == 0 {
		logger.Info().Str("detail", result.Detail).Msg("no comments available")
		return
	}
	start, ok := recordingStart(rec.Program)
	if !ok {
		logger.Warn().Msg("recording start time unknown, cannot place comments")
		return
	}
	if ctx.Err() != nil {
		logger.Info().Msg("download aborted before comments were stored")
		return
	}
	comments := transformComments(result.Comments, start)
	if err := e.store.WriteSideChannel(ctx, rec.ID, comments); err != nil {
		logger.Warn().Err(err).Msg("failed to store comments, continuing")
		return
	}
	logger.Info().Int("count", len(comments)).Msg("comments stored")
}

func (e *Engine) saveThumbnail(ctx context.Context, j *job, rec model.DownloadRecord) model.DownloadRecord {
	logger := j.logger.With().Str(xglog.FieldEvent, "download.thumbnail").Logger()

	if ctx.Err() != nil {
		logger.Info().Msg("download aborted, skipping thumbnail")
		return rec
	}
	thumb, err := e.source.FetchThumbnail(ctx, rec.Program.VideoID)
	if err != nil {
		if model.IsAborted(err) || ctx.Err() != nil {
			logger.Info().Err(err).Msg("download aborted while fetching thumbnail")
			return rec
		}
		logger.Warn().Err(err).Msg("failed to fetch thumbnail, continuing")
		return rec
	}
	if ctx.Err() != nil {
		logger.Info().Msg("download aborted before thumbnail was stored")
		return rec
	}
	if err := e.store.WriteThumbnail(ctx, rec.ID, thumb); err != nil {
		logger.Warn().Err(err).Msg("failed to store thumbnail, continuing")
		return rec
	}
	updated, err := e.store.UpdateDownloadRecord(ctx, rec.ID, func(r *model.DownloadRecord) {
		r.HasThumbnail = model.Bool(true)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to flag thumbnail on record, continuing")
		return rec
	}
	e.registry.Upsert(updated)
	return updated
}

func checkAbort(ctx context.Context, label string) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s", model.ErrAborted, label)
	}
	return nil
}

func int64Ptr(v int64) *int64 { return &v }
