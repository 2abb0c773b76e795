// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/downloader"
	"github.com/ManuGH/offlinevod/internal/intercept"
	"github.com/ManuGH/offlinevod/internal/registry"
	"github.com/ManuGH/offlinevod/internal/storage"
	"github.com/ManuGH/offlinevod/internal/vpath"
)

type fakeEngine struct {
	mu        sync.Mutex
	reg       *registry.Registry
	started   []downloader.Options
	cancelled []string
	removed   []string
	startErr  error
	resumeErr error
}

func (f *fakeEngine) StartDownloadAsync(_ context.Context, program model.Program, opts downloader.Options) (model.DownloadRecord, <-chan downloader.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return model.DownloadRecord{}, nil, f.startErr
	}
	f.started = append(f.started, opts)
	rec := model.DownloadRecord{
		ID: fmt.Sprintf("job-%d", len(f.started)), VideoID: program.ID, Quality: opts.Quality,
		Status: model.StatusDownloading, StorageBackend: model.BackendFS,
	}
	f.reg.Upsert(rec)
	return rec, nil, nil
}

func (f *fakeEngine) ResumeDownloadAsync(_ context.Context, id string) (model.DownloadRecord, <-chan downloader.Result, error) {
	if f.resumeErr != nil {
		return model.DownloadRecord{}, nil, f.resumeErr
	}
	rec, _ := f.reg.Get(id)
	rec.Status = model.StatusDownloading
	return rec, nil, nil
}

func (f *fakeEngine) CancelDownload(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
}

func (f *fakeEngine) IsActive(id string) bool { return id == "active" }

func (f *fakeEngine) RemoveDownload(_ context.Context, id string) error {
	if _, ok := f.reg.Get(id); !ok {
		return fmt.Errorf("%w: download %s", model.ErrNotFound, id)
	}
	f.removed = append(f.removed, id)
	f.reg.Remove(id)
	return nil
}

type fakePrograms struct{}

func (fakePrograms) FetchProgram(_ context.Context, id int) (model.Program, error) {
	if id == 404 {
		return model.Program{}, &model.TransportError{Op: "fetch_program", StatusCode: http.StatusNotFound, Message: "Specified video was not found"}
	}
	return model.Program{ID: id, Title: "News", RecordedVideo: model.RecordedVideo{ID: id}}, nil
}

type harness struct {
	srv    *httptest.Server
	store  *storage.Store
	reg    *registry.Registry
	engine *fakeEngine
}

func newHarness(t *testing.T) harness {
	t.Helper()
	ctx := context.Background()
	st := storage.New(storage.Options{DataDir: t.TempDir(), Preferred: []model.StorageBackend{model.BackendFS}})
	t.Cleanup(func() { _ = st.Close() })

	done := model.DownloadRecord{
		ID: "done", VideoID: 7, Quality: "1080p", Status: model.StatusCompleted, StorageBackend: model.BackendFS,
		SegmentCount: 1, Segments: []model.SegmentDescriptor{{Sequence: 0, Duration: 2}},
		CreatedAt: "2025-01-01T00:00:00Z", UpdatedAt: "2025-01-02T00:00:00Z",
	}
	require.NoError(t, st.PutDownloadRecord(ctx, done))
	require.NoError(t, st.WriteManifest(ctx, done, "#EXTM3U\n#EXTINF:2.0,\n"+vpath.SegmentPath("done", 0)+"\n#EXT-X-ENDLIST\n"))
	require.NoError(t, st.WriteSegment(ctx, done, 0, []byte("TS")))
	require.NoError(t, st.WriteSideChannel(ctx, "done", []model.Comment{{Text: "hi", DisplayTime: "01/01 21:00:00"}}))
	require.NoError(t, st.WriteThumbnail(ctx, "done", model.Thumbnail{ContentType: "image/webp", Data: []byte("img")}))

	reg := registry.New(st)
	require.NoError(t, reg.Initialize(ctx))

	eng := &fakeEngine{reg: reg}
	s := New(Deps{
		Engine:   eng,
		Registry: reg,
		Store:    st,
		Programs: fakePrograms{},
		Offline:  intercept.NewResolver(st),
	}, Config{Version: "test", DefaultQuality: "720p"})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return harness{srv: srv, store: st, reg: reg, engine: eng}
}

func (h harness) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestDownloads_ListAndGet(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/api/downloads", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]map[string]any](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "done", list[0]["id"])
	assert.Equal(t, false, list[0]["active"])

	resp = h.do(t, http.MethodGet, "/api/downloads/done", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", decode[map[string]any](t, resp)["status"])

	resp = h.do(t, http.MethodGet, "/api/downloads/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartDownload(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/api/downloads", `{"program_id": 42, "save_comments": false}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "/api/downloads/job-1", resp.Header.Get("Location"))
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "720p", body["quality"], "default quality applies")
	require.Len(t, h.engine.started, 1)
	assert.False(t, h.engine.started[0].SaveComments)

	_, ok := h.reg.Get("job-1")
	assert.True(t, ok)
}

func TestStartDownload_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		offline bool
		engErr  error
		want    int
	}{
		{"malformed json", `{`, false, nil, http.StatusBadRequest},
		{"unknown field", `{"program_id": 1, "extra": 1}`, false, nil, http.StatusBadRequest},
		{"missing program", `{"quality": "1080p"}`, false, nil, http.StatusBadRequest},
		{"upstream 404", `{"program_id": 404}`, false, nil, http.StatusNotFound},
		{"offline mode", `{"program_id": 1}`, true, nil, http.StatusServiceUnavailable},
		{"no backend", `{"program_id": 1}`, false, fmt.Errorf("%w: x", downloader.ErrNoBackend), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.engine.startErr = tt.engErr
			if tt.offline {
				require.NoError(t, h.reg.SetOfflineMode(context.Background(), true))
			}
			resp := h.do(t, http.MethodPost, "/api/downloads", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
}

func TestCancelResumeRemove(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/api/downloads/done/cancel", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"done"}, h.engine.cancelled)

	resp = h.do(t, http.MethodPost, "/api/downloads/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	h.engine.resumeErr = fmt.Errorf("%w: done is completed", downloader.ErrNotResumable)
	resp = h.do(t, http.MethodPost, "/api/downloads/done/resume", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = h.do(t, http.MethodDelete, "/api/downloads/done", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = h.do(t, http.MethodDelete, "/api/downloads/done", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCommentsAndThumbnail(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/api/downloads/done/comments", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	comments := decode[[]model.Comment](t, resp)
	require.Len(t, comments, 1)
	assert.Equal(t, "hi", comments[0].Text)

	resp = h.do(t, http.MethodGet, "/api/downloads/done/thumbnail", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/webp", resp.Header.Get("Content-Type"))

	resp = h.do(t, http.MethodGet, "/api/downloads/other/comments", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = h.do(t, http.MethodGet, "/api/downloads/other/thumbnail", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOfflineMode(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/api/offline-mode", "")
	assert.JSONEq(t, `{"enabled": false}`, readBody(t, resp))

	resp = h.do(t, http.MethodPut, "/api/offline-mode", `{"enabled": true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, h.reg.OfflineMode())

	resp = h.do(t, http.MethodPut, "/api/offline-mode", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/healthz", "")
	assert.True(t, decode[healthResponse](t, resp).OfflineMode)
}

func TestStorage(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/api/storage", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "fs", body["backend"])
	assert.Contains(t, body, "usage")
}

func TestOfflineStreamsAreServedFromStorage(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/offline/streams/done/playlist.m3u8", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.apple.mpegurl", resp.Header.Get("Content-Type"))
	assert.Contains(t, readBody(t, resp), vpath.SegmentPath("done", 0))

	resp = h.do(t, http.MethodGet, "/offline/streams/done/segments/segment-00000000.ts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "TS", readBody(t, resp))

	resp = h.do(t, http.MethodGet, "/offline/streams/unknown/playlist.m3u8", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/offline/streams/done/segments/segment-x.ts", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodGet, "/api/downloads", "")

	resp := h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "offlinevod_http_request_duration_seconds")
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}
