// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package intercept

import (
	"net/http"
)

// Middleware answers GET and HEAD requests for offline paths and hands
// every other request to next. A malformed segment filename inside the
// offline tree is a 400.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			next.ServeHTTP(w, req)
			return
		}
		resp, matched, err := r.Resolve(req.Context(), req.URL.Path)
		if err != nil {
			w.Header().Set("Cache-Control", "no-store")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !matched {
			next.ServeHTTP(w, req)
			return
		}

		for k, v := range resp.Header {
			w.Header()[k] = append([]string(nil), v...)
		}
		w.WriteHeader(resp.Status)
		if req.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(resp.Body)
	})
}
