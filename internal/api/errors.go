// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/downloader"
	xglog "github.com/ManuGH/offlinevod/internal/log"
)

var (
	errOfflineMode = errors.New("offline mode is enabled")
	errBadRequest  = errors.New("bad request")
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var te *model.TransportError
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, downloader.ErrAlreadyActive), errors.Is(err, downloader.ErrNotResumable):
		return http.StatusConflict
	case errors.Is(err, downloader.ErrNoBackend), errors.Is(err, errOfflineMode):
		return http.StatusServiceUnavailable
	case errors.As(err, &te):
		if te.StatusCode == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	logger := xglog.WithComponentFromContext(r.Context(), "api")
	if code >= http.StatusInternalServerError {
		logger.Error().Err(err).Str(xglog.FieldPath, r.URL.Path).Int("status", code).Msg("request failed")
	} else {
		logger.Debug().Err(err).Str(xglog.FieldPath, r.URL.Path).Int("status", code).Msg("request rejected")
	}
	writeJSON(w, code, errorBody{Error: http.StatusText(code), Detail: err.Error()})
}
