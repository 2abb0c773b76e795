// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package validate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Valid(t *testing.T) {
	v := New()
	v.URL("base", "http://host:7000/api", []string{"http", "https"})
	v.ListenAddr("listen", ":8080")
	v.ListenAddr("listen", "127.0.0.1:0")
	v.Range("n", 3, 1, 5)
	v.FloatRange("rate", 0.5, 0, 1)
	v.Positive("burst", 1)
	v.PositiveDuration("timeout", time.Second)
	v.NonNegativeDurations("delays", []time.Duration{0, 2 * time.Second})
	v.OneOf("backend", "fs", []string{"fs", "kv", "cache"})
	v.NotEmpty("name", "x")
	v.Directory("dir", filepath.Join(t.TempDir(), "nested"), false)

	assert.True(t, v.IsValid())
	assert.NoError(t, v.Err())
}

func TestValidator_CollectsEveryFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	v := New()
	v.URL("base", "", nil)
	v.URL("base", "ftp://host", []string{"http"})
	v.URL("base", "/relative", nil)
	v.ListenAddr("listen", "8080")
	v.Range("n", 9, 1, 5)
	v.Positive("burst", 0)
	v.PositiveDuration("timeout", 0)
	v.NonNegativeDurations("delays", nil)
	v.NonNegativeDurations("delays", []time.Duration{-time.Second})
	v.OneOf("backend", "s3", []string{"fs"})
	v.NotEmpty("name", "  ")
	v.Directory("dir", file, false)
	v.Directory("dir", filepath.Join(t.TempDir(), "missing"), true)
	v.Directory("dir", "a/../b", false)

	err := v.Err()
	require.Error(t, err)

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors(), 14)
	assert.Equal(t, "delays[0]", ve.Errors()[8].Field)
	assert.Contains(t, err.Error(), "validation failed for base: URL cannot be empty")
}
