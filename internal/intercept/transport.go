// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package intercept

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// Transport is an http.RoundTripper that answers offline paths from the
// Resolver and forwards everything else to Delegate.
type Transport struct {
	Resolver *Resolver
	// Delegate handles non-offline requests. Nil means http.DefaultTransport.
	Delegate http.RoundTripper
}

// NewTransport returns a Transport over resolver.
func NewTransport(resolver *Resolver, delegate http.RoundTripper) *Transport {
	return &Transport{Resolver: resolver, Delegate: delegate}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, matched, err := t.Resolver.Resolve(req.Context(), req.URL.Path)
	if err != nil {
		closeBody(req)
		return nil, fmt.Errorf("intercept: %s: %w", req.URL.Path, err)
	}
	if !matched {
		return t.delegate().RoundTrip(req)
	}
	closeBody(req)

	body := resp.Body
	if req.Method == http.MethodHead {
		body = nil
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.Status, http.StatusText(resp.Status)),
		StatusCode:    resp.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        resp.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(resp.Body)),
		Request:       req,
	}, nil
}

// Client returns an http.Client that routes through t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) delegate() http.RoundTripper {
	if t.Delegate != nil {
		return t.Delegate
	}
	return http.DefaultTransport
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
