// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func static(name string, status Status) Checker {
	return CheckFunc(name, func(context.Context) CheckResult { return CheckResult{Status: status} })
}

func TestReady_NoCheckers(t *testing.T) {
	resp := NewManager("v1", 0).Ready(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Nil(t, resp.Checks)
}

func TestReady_Aggregation(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []Status
		wantReady bool
		want      Status
	}{
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, true, StatusHealthy},
		{"degraded", []Status{StatusHealthy, StatusDegraded}, true, StatusDegraded},
		{"unhealthy wins", []Status{StatusUnhealthy, StatusDegraded}, false, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("v1", time.Second)
			for i, s := range tt.statuses {
				m.Register(static(string(rune('a'+i)), s))
			}
			resp := m.Ready(context.Background())
			assert.Equal(t, tt.wantReady, resp.Ready)
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.statuses))
		})
	}
}

func TestErrorCheck(t *testing.T) {
	ok := ErrorCheck("up", StatusDegraded, func(context.Context) error { return nil })
	assert.Equal(t, CheckResult{Status: StatusHealthy}, ok.Check(context.Background()))

	bad := ErrorCheck("up", StatusDegraded, func(context.Context) error { return errors.New("refused") })
	assert.Equal(t, CheckResult{Status: StatusDegraded, Error: "refused"}, bad.Check(context.Background()))
}

func TestReady_ChecksHonourTimeout(t *testing.T) {
	m := NewManager("v1", 20*time.Millisecond)
	m.Register(ErrorCheck("slow", StatusUnhealthy, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	resp := m.Ready(context.Background())
	assert.False(t, resp.Ready)
	assert.Equal(t, context.DeadlineExceeded.Error(), resp.Checks["slow"].Error)
}

func TestServeReady(t *testing.T) {
	m := NewManager("v1", time.Second)
	m.Register(static("storage", StatusUnhealthy))

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Ready)
	assert.Equal(t, "v1", body.Version)
	assert.Equal(t, StatusUnhealthy, body.Checks["storage"].Status)
}
