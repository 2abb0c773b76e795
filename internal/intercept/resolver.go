// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package intercept answers requests for virtual offline paths from local
// storage. The same Resolver backs an http.RoundTripper for in-process
// players and an http.Handler middleware for network clients.
package intercept

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	xglog "github.com/ManuGH/offlinevod/internal/log"
	"github.com/ManuGH/offlinevod/internal/metrics"
	"github.com/ManuGH/offlinevod/internal/storage"
	"github.com/ManuGH/offlinevod/internal/vpath"
)

// Store is the read side of storage used to answer offline requests.
type Store interface {
	GetDownloadRecord(ctx context.Context, id string) (model.DownloadRecord, bool, error)
	ReadManifest(ctx context.Context, rec model.DownloadRecord) (string, bool, error)
	ReadSegment(ctx context.Context, rec model.DownloadRecord, sequence int) ([]byte, bool, error)
}

// Response is a locally produced answer for an offline path.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Header      http.Header
}

// Resolver maps virtual paths to stored bytes.
type Resolver struct {
	store  Store
	logger zerolog.Logger
}

// NewResolver returns a Resolver reading from store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, logger: xglog.WithComponent("intercept")}
}

// Resolve answers rawPath when it belongs to the offline grammar. matched is
// false for every other path. err is set only for a malformed segment
// filename; unknown ids and missing bytes produce a 404 Response.
func (r *Resolver) Resolve(ctx context.Context, rawPath string) (resp Response, matched bool, err error) {
	target, ok, err := vpath.Parse(rawPath)
	if err != nil {
		metrics.IncInterceptRequest("invalid", http.StatusBadRequest)
		return Response{}, false, err
	}
	if !ok {
		return Response{}, false, nil
	}

	resp = r.lookup(ctx, target)
	metrics.IncInterceptRequest(string(target.Kind), resp.Status)

	ev := r.logger.Debug()
	if resp.Status >= http.StatusInternalServerError {
		ev = r.logger.Warn()
	}
	ev.Str(xglog.FieldDownloadID, target.DownloadID).
		Str("kind", string(target.Kind)).
		Int(xglog.FieldSequence, target.Sequence).
		Int(xglog.FieldStatus, resp.Status).
		Int(xglog.FieldBytes, len(resp.Body)).
		Msg("offline request served")
	return resp, true, nil
}

func (r *Resolver) lookup(ctx context.Context, target vpath.Target) Response {
	rec, ok, err := r.store.GetDownloadRecord(ctx, target.DownloadID)
	if err != nil {
		return failure(http.StatusInternalServerError, err)
	}
	if !ok {
		return failure(http.StatusNotFound, fmt.Errorf("offline download %s not found", target.DownloadID))
	}

	switch target.Kind {
	case vpath.KindManifest:
		text, ok, err := r.store.ReadManifest(ctx, rec)
		if err != nil {
			return failure(http.StatusInternalServerError, err)
		}
		if !ok {
			return failure(http.StatusNotFound, fmt.Errorf("offline playlist for %s not found", rec.ID))
		}
		return success(storage.ContentTypeManifest, []byte(text))
	case vpath.KindSegment:
		data, ok, err := r.store.ReadSegment(ctx, rec, target.Sequence)
		if err != nil {
			return failure(http.StatusInternalServerError, err)
		}
		if !ok {
			return failure(http.StatusNotFound, fmt.Errorf("offline segment %d for %s not found", target.Sequence, rec.ID))
		}
		return success(storage.ContentTypeSegment, data)
	default:
		return failure(http.StatusNotFound, fmt.Errorf("unsupported offline target %q", target.Kind))
	}
}

func success(contentType string, body []byte) Response {
	return Response{
		Status:      http.StatusOK,
		ContentType: contentType,
		Body:        body,
		Header:      baseHeader(contentType, len(body)),
	}
}

func failure(status int, err error) Response {
	body := []byte(err.Error() + "\n")
	return Response{
		Status:      status,
		ContentType: "text/plain; charset=utf-8",
		Body:        body,
		Header:      baseHeader("text/plain; charset=utf-8", len(body)),
	}
}

// Every offline answer must be read from storage again, never from an
// intermediate HTTP cache.
func baseHeader(contentType string, size int) http.Header {
	h := make(http.Header, 4)
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(size))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	return h
}
