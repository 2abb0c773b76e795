// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/vpath"
)

const (
	cacheKeyPrefix = "offlinevod:"

	fieldContentType = "content_type"
	fieldBody        = "body"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CacheBackend is a URL-addressed response cache on Redis. Each stored
// response is a hash {content_type, body} keyed by its virtual path.
type CacheBackend struct {
	client *redis.Client
}

// OpenCacheBackend connects and pings Redis.
func OpenCacheBackend(ctx context.Context, cfg RedisConfig) (*CacheBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache backend: redis connection failed: %w", err)
	}
	return &CacheBackend{client: client}, nil
}

func (b *CacheBackend) Kind() model.StorageBackend { return model.BackendCache }

func (b *CacheBackend) Close() error { return b.client.Close() }

func cacheKey(virtualPath string) string {
	return cacheKeyPrefix + virtualPath
}

func (b *CacheBackend) put(ctx context.Context, virtualPath, contentType string, body []byte) error {
	return b.client.HSet(ctx, cacheKey(virtualPath), fieldContentType, contentType, fieldBody, body).Err()
}

func (b *CacheBackend) match(ctx context.Context, virtualPath string) ([]byte, bool, error) {
	body, err := b.client.HGet(ctx, cacheKey(virtualPath), fieldBody).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func (b *CacheBackend) WriteManifest(ctx context.Context, downloadID, text string) error {
	return b.put(ctx, vpath.ManifestPath(downloadID), ContentTypeManifest, []byte(text))
}

func (b *CacheBackend) ReadManifest(ctx context.Context, downloadID string) (string, bool, error) {
	body, ok, err := b.match(ctx, vpath.ManifestPath(downloadID))
	return string(body), ok, err
}

func (b *CacheBackend) WriteSegment(ctx context.Context, downloadID string, sequence int, data []byte) error {
	return b.put(ctx, vpath.SegmentPath(downloadID, sequence), ContentTypeSegment, data)
}

func (b *CacheBackend) ReadSegment(ctx context.Context, downloadID string, sequence int) ([]byte, bool, error) {
	return b.match(ctx, vpath.SegmentPath(downloadID, sequence))
}

// Remove deletes the manifest and each listed segment entry.
func (b *CacheBackend) Remove(ctx context.Context, downloadID string, sequences []int) error {
	keys := make([]string, 0, len(sequences)+1)
	keys = append(keys, cacheKey(vpath.ManifestPath(downloadID)))
	for _, seq := range sequences {
		keys = append(keys, cacheKey(vpath.SegmentPath(downloadID, seq)))
	}

	const batch = 512
	for start := 0; start < len(keys); start += batch {
		end := min(start+batch, len(keys))
		if err := b.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (b *CacheBackend) Usage(ctx context.Context) (int64, error) {
	var (
		total  int64
		cursor uint64
	)
	for {
		keys, next, err := b.client.Scan(ctx, cursor, cacheKeyPrefix+vpath.Prefix+"*", 256).Result()
		if err != nil {
			return total, err
		}
		for _, k := range keys {
			n, err := b.client.HStrLen(ctx, k, fieldBody).Result()
			if err != nil {
				return total, err
			}
			total += n
		}
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}
