// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"net/http"

	"github.com/wingedpig/sessionmux/internal/api/handlers"
)

// Middleware stores the requested API version in the request context and
// echoes it in the response. Unknown versions are rejected.
//
//	router.Use(version.Middleware)
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version := r.Header.Get(Header)
		if version == "" {
			version = LatestVersion
		}
		if !Supported(version) {
			handlers.WriteError(w, http.StatusBadRequest, handlers.ErrBadRequest,
				fmt.Sprintf("unsupported API version %q", version))
			return
		}

		w.Header().Set(Header, version)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), version)))
	})
}
