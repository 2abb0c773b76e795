// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/downloader"
	xglog "github.com/ManuGH/offlinevod/internal/log"
)

const maxBodyBytes = 1 << 16

// downloadView is a record plus its live progress.
type downloadView struct {
	model.DownloadRecord
	Active   bool                    `json:"active"`
	Progress *model.ProgressSnapshot `json:"progress,omitempty"`
}

func (s *Server) view(rec model.DownloadRecord) downloadView {
	v := downloadView{DownloadRecord: rec, Active: s.deps.Engine.IsActive(rec.ID)}
	if p, ok := s.deps.Registry.Progress(rec.ID); ok {
		v.Progress = &p
	}
	return v
}

type startRequest struct {
	ProgramID    int    `json:"program_id"`
	Quality      string `json:"quality"`
	IsHEVC       bool   `json:"is_hevc"`
	SaveComments *bool  `json:"save_comments"`
}

func (s *Server) handleListDownloads(w http.ResponseWriter, _ *http.Request) {
	recs := s.deps.Registry.Downloads()
	out := make([]downloadView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.view(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.deps.Registry.Get(id)
	if !ok {
		writeError(w, r, fmt.Errorf("%w: download %s", model.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, s.view(rec))
}

func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.ProgramID <= 0 {
		writeError(w, r, fmt.Errorf("%w: program_id must be positive", errBadRequest))
		return
	}
	if s.deps.Registry.OfflineMode() {
		writeError(w, r, errOfflineMode)
		return
	}

	program, err := s.deps.Programs.FetchProgram(r.Context(), req.ProgramID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	opts := downloader.Options{
		Quality:      req.Quality,
		IsHEVC:       req.IsHEVC,
		SaveComments: req.SaveComments == nil || *req.SaveComments,
	}
	if opts.Quality == "" {
		opts.Quality = s.cfg.DefaultQuality
	}

	rec, _, err := s.deps.Engine.StartDownloadAsync(r.Context(), program, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	xglog.WithComponentFromContext(r.Context(), "api").Info().
		Str(xglog.FieldDownloadID, rec.ID).
		Int(xglog.FieldVideoID, req.ProgramID).
		Str(xglog.FieldEvent, "download.accepted").
		Msg("download started")

	w.Header().Set("Location", "/api/downloads/"+rec.ID)
	writeJSON(w, http.StatusAccepted, s.view(rec))
}

func (s *Server) handleResumeDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Registry.OfflineMode() {
		writeError(w, r, errOfflineMode)
		return
	}
	rec, _, err := s.deps.Engine.ResumeDownloadAsync(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.view(rec))
}

func (s *Server) handleCancelDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.deps.Registry.Get(id); !ok {
		writeError(w, r, fmt.Errorf("%w: download %s", model.ErrNotFound, id))
		return
	}
	s.deps.Engine.CancelDownload(id)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRemoveDownload(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Engine.RemoveDownload(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	comments, ok, err := s.deps.Store.ReadSideChannel(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, fmt.Errorf("%w: comments for %s", model.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	thumb, ok, err := s.deps.Store.ReadThumbnail(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, fmt.Errorf("%w: thumbnail for %s", model.ErrNotFound, id))
		return
	}
	ct := thumb.ContentType
	if ct == "" {
		ct = "image/jpeg"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(thumb.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(thumb.Data)
}
