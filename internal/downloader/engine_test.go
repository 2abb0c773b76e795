// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package downloader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/registry"
	"github.com/ManuGH/offlinevod/internal/retry"
	"github.com/ManuGH/offlinevod/internal/storage"
	"github.com/ManuGH/offlinevod/internal/vpath"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

type fakeSource struct {
	mu         sync.Mutex
	manifest   string
	segments   map[int][]byte
	fetches    map[int]int
	sessions   []string
	tokens     []string
	failures   map[int]int // seq -> remaining transient failures
	comments   model.CommentsResult
	commentErr error
	thumb      model.Thumbnail
	thumbErr   error
	thumbIDs   []int

	onManifest func(ctx context.Context)
	onComments func(ctx context.Context) error
	onSegment  func(ctx context.Context, seq int) error
}

func newFakeSource(n int) *fakeSource {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n")
	segs := make(map[int][]byte, n)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "#EXTINF:9.5,\nsegment?session_id=s&sequence=%d&cache_key=tok\n", i)
		segs[i] = []byte(strings.Repeat(string(rune('a'+i)), 100+i))
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return &fakeSource{
		manifest: b.String(),
		segments: segs,
		fetches:  make(map[int]int),
		failures: make(map[int]int),
		thumb:    model.Thumbnail{ContentType: "image/webp", Data: []byte("thumb")},
		comments: model.CommentsResult{Success: true, Comments: []model.RawComment{{Text: "hi", Time: 5, Author: "u1"}}},
	}
}

func (f *fakeSource) FetchManifest(ctx context.Context, _ int, _, sessionID string) (string, error) {
	f.mu.Lock()
	f.sessions = append(f.sessions, sessionID)
	hook := f.onManifest
	text := f.manifest
	f.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return text, nil
}

func (f *fakeSource) FetchSegment(ctx context.Context, _ int, _, _, cacheToken string, seq int) ([]byte, error) {
	f.mu.Lock()
	f.fetches[seq]++
	f.tokens = append(f.tokens, cacheToken)
	hook := f.onSegment
	fail := f.failures[seq] > 0
	if fail {
		f.failures[seq]--
	}
	data := f.segments[seq]
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, seq); err != nil {
			return nil, err
		}
	}
	if fail {
		return nil, &model.TransportError{Op: "segment", StatusCode: 503, Message: "busy"}
	}
	return data, nil
}

func (f *fakeSource) FetchComments(ctx context.Context, _ int) (model.CommentsResult, error) {
	if f.onComments != nil {
		if err := f.onComments(ctx); err != nil {
			return model.CommentsResult{}, err
		}
	}
	return f.comments, f.commentErr
}

func (f *fakeSource) FetchThumbnail(_ context.Context, recordedVideoID int) (model.Thumbnail, error) {
	f.mu.Lock()
	f.thumbIDs = append(f.thumbIDs, recordedVideoID)
	f.mu.Unlock()
	return f.thumb, f.thumbErr
}

func (f *fakeSource) fetchCount(seq int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[seq]
}

type harness struct {
	engine   *Engine
	store    *storage.Store
	registry *registry.Registry
	source   *fakeSource
	sleeps   *[]time.Duration
}

func newHarness(t *testing.T, segments int) *harness {
	t.Helper()

	store := storage.New(storage.Options{
		DataDir:   t.TempDir(),
		Preferred: []model.StorageBackend{model.BackendFS},
	})
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New(store)
	require.NoError(t, reg.Initialize(context.Background()))

	var (
		mu     sync.Mutex
		sleeps []time.Duration
		n      int
	)
	src := newFakeSource(segments)
	eng := New(src, store, reg, Config{
		Retry: retry.Policy{
			Delays: retry.DefaultDelays,
			Sleep: func(ctx context.Context, d time.Duration) error {
				mu.Lock()
				sleeps = append(sleeps, d)
				mu.Unlock()
				return ctx.Err()
			},
		},
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })

	return &harness{engine: eng, store: store, registry: reg, source: src, sleeps: &sleeps}
}

func testProgram() model.Program {
	rst := "2025-01-02T23:59:50+09:00"
	return model.Program{
		ID:            42,
		RecordedVideo: model.RecordedVideo{ID: 7, RecordingStartTime: &rst, Duration: 47.5},
		Title:         "Evening News",
		StartTime:     "2025-01-03T00:00:00+09:00",
		EndTime:       "2025-01-03T00:30:00+09:00",
	}
}

func TestStartDownload_Completes(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	rec, err := h.engine.StartDownload(ctx, testProgram(), Options{Quality: "1080p", IsHEVC: true, SaveComments: true})
	require.NoError(t, err)

	assert.Equal(t, "id-1", rec.ID)
	assert.Equal(t, model.StatusCompleted, rec.Status)
	assert.Equal(t, 10, rec.TargetDuration)
	assert.Equal(t, 3, rec.SegmentCount)
	require.Len(t, rec.Segments, 3)
	assert.InDelta(t, 9.5, rec.Segments[2].Duration, 1e-9)
	assert.Equal(t, int64(100+101+102), rec.DownloadedBytes)
	assert.Equal(t, rec.DownloadedBytes, rec.TotalBytes)
	assert.True(t, rec.Thumbnail())
	assert.Equal(t, model.BackendFS, rec.StorageBackend)

	stored, ok, err := h.store.GetDownloadRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, stored.Status)

	text, ok, err := h.store.ReadManifest(ctx, stored)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, text, vpath.SegmentPath(rec.ID, 0))
	assert.Contains(t, text, vpath.SegmentPath(rec.ID, 2))
	assert.NotContains(t, text, "segment?")

	for seq := 0; seq < 3; seq++ {
		data, ok, err := h.store.ReadSegment(ctx, stored, seq)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, h.source.segments[seq], data)
	}

	comments, ok, err := h.store.ReadSideChannel(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []model.Comment{{Text: "hi", DisplayTime: "01/02 23:59:55", PlaybackPosition: 5, AuthorID: "u1"}}, comments)

	thumb, ok, err := h.store.ReadThumbnail(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "thumb", string(thumb.Data))

	// Session id is fresh and distinct from the record id.
	assert.Equal(t, []string{"id-2"}, h.source.sessions)
	assert.Equal(t, []string{"tok", "tok", "tok"}, h.source.tokens)
	assert.Equal(t, []int{7}, h.source.thumbIDs)

	_, live := h.registry.Progress(rec.ID)
	assert.False(t, live)
	got, ok := h.registry.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Empty(t, h.engine.Active())
}

func TestStartDownload_BytesMonotonic(t *testing.T) {
	h := newHarness(t, 4)

	var (
		mu      sync.Mutex
		history []model.DownloadRecord
	)
	unsubscribe := h.registry.Subscribe(func(ev registry.Event) {
		if ev.Kind != registry.EventUpserted {
			return
		}
		if rec, ok := h.registry.Get(ev.ID); ok {
			mu.Lock()
			history = append(history, rec)
			mu.Unlock()
		}
	})
	defer unsubscribe()

	rec, err := h.engine.StartDownload(context.Background(), testProgram(), Options{Quality: "720p"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, history)
	for i := 1; i < len(history); i++ {
		assert.GreaterOrEqual(t, history[i].DownloadedBytes, history[i-1].DownloadedBytes)
		assert.GreaterOrEqual(t, history[i].TotalBytes, history[i-1].TotalBytes)
	}
	assert.Equal(t, rec.TotalBytes, rec.DownloadedBytes)
}

func TestStartDownload_SkipsCommentsWhenDisabled(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	rec, err := h.engine.StartDownload(ctx, testProgram(), Options{Quality: "720p", SaveComments: false})
	require.NoError(t, err)

	_, ok, err := h.store.ReadSideChannel(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStartDownload_SideChannelFailuresAreSwallowed(t *testing.T) {
	h := newHarness(t, 2)
	h.source.commentErr = errors.New("comments down")
	h.source.thumbErr = &model.TransportError{Op: "thumbnail", StatusCode: 404, Message: "not found"}

	rec, err := h.engine.StartDownload(context.Background(), testProgram(), Options{Quality: "720p", SaveComments: true})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, rec.Status)
	assert.False(t, rec.Thumbnail())
}

func TestStartDownload_CancelDuringSideChannelStillCompletes(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	h.source.onComments = func(ctx context.Context) error {
		for _, id := range h.engine.Active() {
			h.engine.CancelDownload(id)
		}
		<-ctx.Done()
		return fmt.Errorf("%w: comments", model.ErrAborted)
	}

	rec, err := h.engine.StartDownload(ctx, testProgram(), Options{Quality: "720p", SaveComments: true})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, rec.Status)
	assert.Equal(t, int64(100+101+102), rec.DownloadedBytes)
	assert.False(t, rec.Thumbnail())

	stored, ok, err := h.store.GetDownloadRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, stored.Status)
	for seq := 0; seq < 3; seq++ {
		_, ok, err := h.store.ReadSegment(ctx, stored, seq)
		require.NoError(t, err)
		assert.True(t, ok, "segment %d", seq)
	}
	_, ok, err = h.store.ReadSideChannel(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, ok, "comments skipped after abort")
	_, ok, err = h.store.ReadThumbnail(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, ok, "thumbnail skipped after abort")
	assert.Empty(t, h.source.thumbIDs)

	got, ok := h.registry.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Empty(t, h.engine.Active())
}

func TestStartDownload_ZeroSegmentsFails(t *testing.T) {
	h := newHarness(t, 0)

	rec, err := h.engine.StartDownload(context.Background(), testProgram(), Options{Quality: "720p"})
	require.ErrorIs(t, err, model.ErrMalformedManifest)
	assert.Equal(t, model.StatusError, rec.Status)

	stored, ok, err := h.store.GetDownloadRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusError, stored.Status)
	assert.Empty(t, h.engine.Active())
}

func TestStartDownload_RetriesTransientSegmentFailure(t *testing.T) {
	h := newHarness(t, 2)
	h.source.failures[1] = 2

	rec, err := h.engine.StartDownload(context.Background(), testProgram(), Options{Quality: "720p"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, rec.Status)
	assert.Equal(t, 3, h.source.fetchCount(1))
	assert.Equal(t, []time.Duration{2 * time.Second, 5 * time.Second}, *h.sleeps)
}

func TestStartDownload_ExhaustedRetriesSetError(t *testing.T) {
	h := newHarness(t, 2)
	h.source.failures[0] = 10

	rec, err := h.engine.StartDownload(context.Background(), testProgram(), Options{Quality: "720p"})
	require.Error(t, err)

	var te *model.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 503, te.StatusCode)
	assert.Equal(t, model.StatusError, rec.Status)
	assert.Equal(t, 4, h.source.fetchCount(0))
	assert.Zero(t, h.source.fetchCount(1))
}

// cancelAfter cancels the job once n segments have been counted.
func cancelAfter(h *harness, n int) func() {
	return h.registry.Subscribe(func(ev registry.Event) {
		if ev.Kind != registry.EventProgress {
			return
		}
		if p, ok := h.registry.Progress(ev.ID); ok && p.DownloadedSegments == n {
			h.engine.CancelDownload(ev.ID)
		}
	})
}

func TestCancelDownload_BetweenSegments(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	defer cancelAfter(h, 3)()

	rec, err := h.engine.StartDownload(ctx, testProgram(), Options{Quality: "720p"})
	require.ErrorIs(t, err, model.ErrAborted)
	assert.True(t, model.IsAborted(err))
	assert.Equal(t, model.StatusPaused, rec.Status)

	stored, ok, err := h.store.GetDownloadRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusPaused, stored.Status)
	assert.Equal(t, int64(100+101+102), stored.DownloadedBytes)

	for seq := 0; seq < 5; seq++ {
		_, ok, err := h.store.ReadSegment(ctx, stored, seq)
		require.NoError(t, err)
		assert.Equal(t, seq < 3, ok, "segment %d", seq)
	}
	assert.Zero(t, h.source.fetchCount(3))
	assert.Empty(t, h.engine.Active())
}

func TestCancelDownload_BeforeAnySegment(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	h.source.onManifest = func(context.Context) {
		for _, id := range h.engine.Active() {
			h.engine.CancelDownload(id)
		}
	}

	rec, err := h.engine.StartDownload(ctx, testProgram(), Options{Quality: "720p"})
	require.ErrorIs(t, err, model.ErrAborted)
	assert.Equal(t, model.StatusPaused, rec.Status)
	assert.Zero(t, rec.DownloadedBytes)

	stored, _, err := h.store.GetDownloadRecord(ctx, rec.ID)
	require.NoError(t, err)
	_, ok, err := h.store.ReadManifest(ctx, stored)
	require.NoError(t, err)
	assert.False(t, ok, "no manifest write after abort")
	for seq := 0; seq < 3; seq++ {
		assert.Zero(t, h.source.fetchCount(seq))
	}
}

func TestCancelDownload_UnknownIsNoop(t *testing.T) {
	h := newHarness(t, 1)
	assert.NotPanics(t, func() { h.engine.CancelDownload("missing") })
}

func TestCancelDownload_CallerContext(t *testing.T) {
	h := newHarness(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	h.source.onSegment = func(_ context.Context, seq int) error {
		if seq == 1 {
			cancel()
		}
		return nil
	}

	rec, err := h.engine.StartDownload(ctx, testProgram(), Options{Quality: "720p"})
	require.ErrorIs(t, err, model.ErrAborted)
	assert.Equal(t, model.StatusPaused, rec.Status)

	stored, _, err := h.store.GetDownloadRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	_, ok, err := h.store.ReadSegment(context.Background(), stored, 1)
	require.NoError(t, err)
	assert.False(t, ok, "segment fetched after abort must not be stored")
}

func TestResumeDownload_SkipsStoredSegments(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	stop := cancelAfter(h, 3)
	first, err := h.engine.StartDownload(ctx, testProgram(), Options{Quality: "720p"})
	require.ErrorIs(t, err, model.ErrAborted)
	stop()

	rec, err := h.engine.ResumeDownload(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, rec.ID)
	assert.Equal(t, model.StatusCompleted, rec.Status)

	for seq := 0; seq < 3; seq++ {
		assert.Equal(t, 1, h.source.fetchCount(seq), "segment %d refetched", seq)
	}
	for seq := 3; seq < 5; seq++ {
		assert.Equal(t, 1, h.source.fetchCount(seq), "segment %d", seq)
	}
	assert.Equal(t, int64(100+101+102+103+104), rec.DownloadedBytes)
	assert.Equal(t, rec.DownloadedBytes, rec.TotalBytes)

	require.Len(t, h.source.sessions, 2)
	assert.NotEqual(t, h.source.sessions[0], h.source.sessions[1])
}

func TestResumeDownload_RejectsCompleted(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	rec, err := h.engine.StartDownload(ctx, testProgram(), Options{Quality: "720p"})
	require.NoError(t, err)

	_, err = h.engine.ResumeDownload(ctx, rec.ID)
	require.ErrorIs(t, err, ErrNotResumable)

	_, err = h.engine.ResumeDownload(ctx, "missing")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestStartDownloadAsync_ShutdownPauses(t *testing.T) {
	h := newHarness(t, 3)
	started := make(chan struct{})
	var once sync.Once
	h.source.onSegment = func(ctx context.Context, _ int) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}

	reqCtx, cancelReq := context.WithCancel(context.Background())
	rec, results, err := h.engine.StartDownloadAsync(reqCtx, testProgram(), Options{Quality: "720p"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusDownloading, rec.Status)

	// The request ending must not end the job.
	cancelReq()
	<-started
	assert.True(t, h.engine.IsActive(rec.ID))

	require.NoError(t, h.engine.Shutdown(context.Background()))
	res := <-results
	require.ErrorIs(t, res.Err, model.ErrAborted)
	assert.Equal(t, model.StatusPaused, res.Record.Status)
}

func TestRemoveDownload_CancelsAndDeletes(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	started := make(chan struct{})
	var once sync.Once
	h.source.onSegment = func(ctx context.Context, seq int) error {
		if seq == 1 {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	rec, results, err := h.engine.StartDownloadAsync(ctx, testProgram(), Options{Quality: "720p"})
	require.NoError(t, err)
	<-started

	require.NoError(t, h.engine.RemoveDownload(ctx, rec.ID))
	<-results

	_, ok, err := h.store.GetDownloadRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok = h.registry.Get(rec.ID)
	assert.False(t, ok)

	err = h.engine.RemoveDownload(ctx, rec.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestRemoveDownload_GivesUpWhenContextEnds(t *testing.T) {
	h := newHarness(t, 2)
	started := make(chan struct{})
	unblock := make(chan struct{})
	h.source.onSegment = func(_ context.Context, seq int) error {
		if seq == 0 {
			close(started)
			<-unblock
		}
		return nil
	}

	rec, results, err := h.engine.StartDownloadAsync(context.Background(), testProgram(), Options{Quality: "720p"})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.engine.RemoveDownload(ctx, rec.ID), context.DeadlineExceeded)

	close(unblock)
	res := <-results
	require.ErrorIs(t, res.Err, model.ErrAborted)

	_, ok, err := h.store.GetDownloadRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, ok, "record kept when removal gave up")
	require.NoError(t, h.engine.RemoveDownload(context.Background(), rec.ID))
}

func TestStartDownload_NoBackend(t *testing.T) {
	store := storage.New(storage.Options{
		DataDir:   t.TempDir(),
		Preferred: []model.StorageBackend{model.BackendCache},
	})
	t.Cleanup(func() { _ = store.Close() })
	reg := registry.New(store)
	require.Error(t, reg.Initialize(context.Background()))

	eng := New(newFakeSource(1), store, reg, Config{})
	defer func() { _ = eng.Shutdown(context.Background()) }()

	_, err := eng.StartDownload(context.Background(), testProgram(), Options{Quality: "720p"})
	require.ErrorIs(t, err, ErrNoBackend)
	assert.Contains(t, err.Error(), "storage backend is not available")
}

func TestEstimateProgress(t *testing.T) {
	p := model.ProgressSnapshot{DownloadedSegments: 2, DownloadedBytes: 300, TotalSegments: 5}
	estimateProgress(&p, 400*time.Millisecond)
	require.NotNil(t, p.TotalBytesEstimate)
	assert.Equal(t, int64(750), *p.TotalBytesEstimate)
	require.NotNil(t, p.EstimatedRemainingMS)
	assert.Equal(t, int64(600), *p.EstimatedRemainingMS)

	p = model.ProgressSnapshot{DownloadedSegments: 1, DownloadedBytes: 10, TotalSegments: 3}
	estimateProgress(&p, 0)
	assert.Equal(t, int64(2), *p.EstimatedRemainingMS)

	p = model.ProgressSnapshot{DownloadedSegments: 3, DownloadedBytes: 30, TotalSegments: 3}
	estimateProgress(&p, time.Second)
	assert.Equal(t, int64(0), *p.EstimatedRemainingMS)
	assert.Equal(t, int64(30), *p.TotalBytesEstimate)
}
