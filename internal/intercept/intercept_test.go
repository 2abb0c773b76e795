// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package intercept

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/storage"
	"github.com/ManuGH/offlinevod/internal/vpath"
)

const testManifest = "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:9.5,\n/offline/streams/dl-1/segments/segment-00000000.ts\n#EXT-X-ENDLIST\n"

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	ctx := context.Background()

	st := storage.New(storage.Options{DataDir: t.TempDir(), Preferred: []model.StorageBackend{model.BackendFS}})
	t.Cleanup(func() { _ = st.Close() })

	rec := model.DownloadRecord{
		ID:             "dl-1",
		VideoID:        42,
		Quality:        "1080p",
		StorageBackend: model.BackendFS,
		Status:         model.StatusCompleted,
		SegmentCount:   2,
	}
	require.NoError(t, st.PutDownloadRecord(ctx, rec))
	require.NoError(t, st.WriteManifest(ctx, rec, testManifest))
	require.NoError(t, st.WriteSegment(ctx, rec, 0, []byte("ts-0")))

	// Record without any stored media.
	require.NoError(t, st.PutDownloadRecord(ctx, model.DownloadRecord{ID: "empty", StorageBackend: model.BackendFS}))
	return st
}

func TestResolve(t *testing.T) {
	r := NewResolver(newStore(t))
	ctx := context.Background()

	tests := []struct {
		name        string
		path        string
		matched     bool
		status      int
		contentType string
		body        string
	}{
		{"manifest", vpath.ManifestPath("dl-1"), true, http.StatusOK, storage.ContentTypeManifest, testManifest},
		{"manifest absolute url", "http://offline.local" + vpath.ManifestPath("dl-1") + "?t=1", true, http.StatusOK, storage.ContentTypeManifest, testManifest},
		{"segment", vpath.SegmentPath("dl-1", 0), true, http.StatusOK, storage.ContentTypeSegment, "ts-0"},
		{"missing segment", vpath.SegmentPath("dl-1", 1), true, http.StatusNotFound, "", ""},
		{"missing manifest", vpath.ManifestPath("empty"), true, http.StatusNotFound, "", ""},
		{"unknown id", vpath.ManifestPath("nope"), true, http.StatusNotFound, "", ""},
		{"unknown id segment", vpath.SegmentPath("nope", 3), true, http.StatusNotFound, "", ""},
		{"foreign path", "/api/streams/video/1/1080p/playlist", false, 0, "", ""},
		{"offline root only", "/offline/streams/", false, 0, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, matched, err := r.Resolve(ctx, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.matched, matched)
			if !tt.matched {
				return
			}
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.contentType, resp.ContentType)
				assert.Equal(t, tt.contentType, resp.Header.Get("Content-Type"))
				assert.Equal(t, tt.body, string(resp.Body))
			}
		})
	}
}

func TestResolve_InvalidSegmentFilename(t *testing.T) {
	r := NewResolver(newStore(t))

	_, matched, err := r.Resolve(context.Background(), "/offline/streams/dl-1/segments/segment-1.ts")
	require.ErrorIs(t, err, vpath.ErrInvalidSegmentFilename)
	assert.False(t, matched)
}

type failingStore struct{}

func (failingStore) GetDownloadRecord(context.Context, string) (model.DownloadRecord, bool, error) {
	return model.DownloadRecord{}, false, &model.StorageError{Op: "get record", Backend: "catalog", Err: errors.New("disk gone")}
}

func (failingStore) ReadManifest(context.Context, model.DownloadRecord) (string, bool, error) {
	return "", false, nil
}

func (failingStore) ReadSegment(context.Context, model.DownloadRecord, int) ([]byte, bool, error) {
	return nil, false, nil
}

func TestResolve_StorageFailure(t *testing.T) {
	r := NewResolver(failingStore{})

	resp, matched, err := r.Resolve(context.Background(), vpath.ManifestPath("dl-1"))
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestTransport(t *testing.T) {
	var delegated []string
	delegate := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		delegated = append(delegated, r.URL.Path)
		return &http.Response{StatusCode: http.StatusTeapot, Body: http.NoBody, Request: r}, nil
	})
	client := NewTransport(NewResolver(newStore(t)), delegate).Client()

	resp, err := client.Get("http://offline.local" + vpath.SegmentPath("dl-1", 0))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ts-0", string(body))
	assert.Equal(t, storage.ContentTypeSegment, resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	resp, err = client.Get("http://offline.local" + vpath.SegmentPath("nope", 0))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = client.Get("http://upstream.local/api/videos/42")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, []string{"/api/videos/42"}, delegated)

	_, err = client.Get("http://offline.local/offline/streams/dl-1/segments/bogus.ts")
	require.ErrorIs(t, err, vpath.ErrInvalidSegmentFilename)
	assert.Len(t, delegated, 1)
}

func TestTransport_Head(t *testing.T) {
	tr := NewTransport(NewResolver(newStore(t)), nil)

	req := httptest.NewRequest(http.MethodHead, "http://offline.local"+vpath.ManifestPath("dl-1"), nil)
	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
	assert.Equal(t, int64(len(testManifest)), resp.ContentLength)
}

func TestMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("next"))
	})
	h := NewResolver(newStore(t)).Middleware(next)

	tests := []struct {
		name   string
		method string
		path   string
		status int
		body   string
	}{
		{"manifest", http.MethodGet, vpath.ManifestPath("dl-1"), http.StatusOK, testManifest},
		{"segment", http.MethodGet, vpath.SegmentPath("dl-1", 0), http.StatusOK, "ts-0"},
		{"head", http.MethodHead, vpath.SegmentPath("dl-1", 0), http.StatusOK, ""},
		{"unknown id", http.MethodGet, vpath.SegmentPath("nope", 0), http.StatusNotFound, ""},
		{"invalid filename", http.MethodGet, "/offline/streams/dl-1/segments/segment-abc.ts", http.StatusBadRequest, ""},
		{"pass through", http.MethodGet, "/api/downloads", http.StatusAccepted, "next"},
		{"write passes through", http.MethodPost, vpath.ManifestPath("dl-1"), http.StatusAccepted, "next"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
			if tt.status != http.StatusAccepted {
				assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			}
		})
	}
}
