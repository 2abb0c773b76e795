// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/storage"
)

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	OfflineMode bool   `json:"offline_mode"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Version:     s.cfg.Version,
		OfflineMode: s.deps.Registry.OfflineMode(),
	})
}

type storageResponse struct {
	Backend      model.StorageBackend `json:"backend,omitempty"`
	BackendError string               `json:"backend_error,omitempty"`
	Usage        storage.Estimate     `json:"usage"`
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	var resp storageResponse
	if backend, err := s.deps.Registry.StorageBackend(); err != nil {
		resp.BackendError = err.Error()
	} else {
		resp.Backend = backend
	}
	est, err := s.deps.Store.Estimate(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp.Usage = est
	writeJSON(w, http.StatusOK, resp)
}

type offlineModeBody struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleGetOfflineMode(w http.ResponseWriter, _ *http.Request) {
	enabled := s.deps.Registry.OfflineMode()
	writeJSON(w, http.StatusOK, offlineModeBody{Enabled: &enabled})
}

func (s *Server) handlePutOfflineMode(w http.ResponseWriter, r *http.Request) {
	var body offlineModeBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if body.Enabled == nil {
		writeError(w, r, fmt.Errorf("%w: enabled is required", errBadRequest))
		return
	}
	if err := s.deps.Registry.SetOfflineMode(r.Context(), *body.Enabled); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}
