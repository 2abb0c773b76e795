// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package upstream is the HTTP client for the recorded-TV server the
// offline downloads are fetched from.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/metrics"
	"github.com/ManuGH/offlinevod/internal/platform/httpx"
	"github.com/ManuGH/offlinevod/internal/telemetry"
)

const (
	defaultTimeout        = 60 * time.Second
	defaultRateLimit      = 20
	defaultRateLimitBurst = 40
	defaultUserAgent      = "offlinevod"

	// maxBodyBytes caps one response body.
	maxBodyBytes = 512 << 20
)

// Options configures the client.
type Options struct {
	// BaseURL is the API root, e.g. http://192.168.1.10:7000/api.
	BaseURL        string
	Timeout        time.Duration
	RateLimit      rate.Limit
	RateLimitBurst int
	UserAgent      string
	// HTTPClient overrides the hardened default (tests).
	HTTPClient *http.Client
}

// Client fetches manifests, segments, comments, thumbnails and programs.
// It never retries; callers own the retry schedule.
type Client struct {
	base      *url.URL
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewClient validates opts.BaseURL and builds a client.
func NewClient(opts Options) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	base, err := url.Parse(trimmed)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream: invalid base URL %q", opts.BaseURL)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(defaultRateLimit)
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = defaultRateLimitBurst
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = httpx.NewClient(httpx.Options{Timeout: opts.Timeout, Traced: true})
	}

	return &Client{
		base:      base,
		http:      hc,
		limiter:   rate.NewLimiter(opts.RateLimit, opts.RateLimitBurst),
		userAgent: opts.UserAgent,
	}, nil
}

// FetchManifest returns the raw media playlist text.
func (c *Client) FetchManifest(ctx context.Context, videoID int, qualityPath, sessionID string) (string, error) {
	q := url.Values{}
	q.Set("session_id", sessionID)
	body, _, err := c.get(ctx, "fetch_manifest", fmt.Sprintf("streams/video/%d/%s/playlist", videoID, qualityPath), q)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchSegment returns one segment body. cacheToken is omitted when empty.
func (c *Client) FetchSegment(ctx context.Context, videoID int, qualityPath, sessionID, cacheToken string, sequence int) ([]byte, error) {
	q := url.Values{}
	q.Set("session_id", sessionID)
	q.Set("sequence", strconv.Itoa(sequence))
	if cacheToken != "" {
		q.Set("cache_key", cacheToken)
	}
	body, _, err := c.get(ctx, "fetch_segment", fmt.Sprintf("streams/video/%d/%s/segment", videoID, qualityPath), q)
	return body, err
}

// FetchComments returns the side-channel comments of a program.
func (c *Client) FetchComments(ctx context.Context, videoID int) (model.CommentsResult, error) {
	var out model.CommentsResult
	body, _, err := c.get(ctx, "fetch_comments", fmt.Sprintf("videos/%d/jikkyo", videoID), nil)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, &model.TransportError{Op: "fetch_comments", Message: "decode failed", Err: err}
	}
	return out, nil
}

// FetchThumbnail returns the preview image of a recorded video file.
func (c *Client) FetchThumbnail(ctx context.Context, recordedVideoID int) (model.Thumbnail, error) {
	body, header, err := c.get(ctx, "fetch_thumbnail", fmt.Sprintf("videos/%d/thumbnail", recordedVideoID), nil)
	if err != nil {
		return model.Thumbnail{}, err
	}
	ct := header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	return model.Thumbnail{ContentType: ct, Data: body}, nil
}

// FetchProgram returns one recorded program.
func (c *Client) FetchProgram(ctx context.Context, videoID int) (model.Program, error) {
	var out model.Program
	body, _, err := c.get(ctx, "fetch_program", fmt.Sprintf("videos/%d", videoID), nil)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, &model.TransportError{Op: "fetch_program", Message: "decode failed", Err: err}
	}
	return out, nil
}

// Ping checks that the server answers its version endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, _, err := c.get(ctx, "ping", "version", nil)
	return err
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + path
	u.RawPath = ""
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values) ([]byte, http.Header, error) {
	rawURL := c.endpoint(path, q)
	route := "/" + path

	ctx, span := telemetry.Tracer("offlinevod.upstream").Start(ctx, "upstream."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.HTTPRouteKey, route))

	fail := func(err error) ([]byte, http.Header, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return fail(aborted(op))
		}
		return fail(&model.TransportError{Op: op, Message: "rate limiter", Err: err})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fail(&model.TransportError{Op: op, Message: "build request", Err: err})
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncUpstreamRequest(op, 0)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return fail(aborted(op))
		}
		return fail(&model.TransportError{Op: op, Err: err})
	}
	defer func() { _ = resp.Body.Close() }()

	metrics.IncUpstreamRequest(op, resp.StatusCode)
	span.SetAttributes(telemetry.HTTPAttributes(http.MethodGet, route, redact(rawURL), resp.StatusCode)...)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return fail(aborted(op))
		}
		return fail(&model.TransportError{Op: op, StatusCode: resp.StatusCode, Message: "read body", Err: err})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(&model.TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body, http.StatusText(resp.StatusCode)),
		})
	}

	span.SetStatus(codes.Ok, "")
	return body, resp.Header, nil
}

func aborted(op string) error {
	return fmt.Errorf("%w: %s", model.ErrAborted, op)
}

// errorMessage extracts "detail" from an error body. detail is either a
// string or a list of {msg} objects.
func errorMessage(body []byte, fallback string) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return fallback
	}

	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil && s != "" {
		return s
	}
	var list []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &list); err == nil && len(list) > 0 && list[0].Msg != "" {
		return list[0].Msg
	}
	return fallback
}

// redact drops the query string, which carries session ids.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	return u.String()
}
