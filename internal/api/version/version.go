// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package version carries the date-based API version negotiated through the
// Sessionmux-Version header.
package version

import "context"

// Version20261019 is the initial API version.
const Version20261019 = "2026-10-19"

// LatestVersion is the version used when a request names none.
var LatestVersion = Version20261019

// supported lists the versions the server can answer.
var supported = map[string]bool{
	Version20261019: true,
}

// Header is the HTTP header used to specify the API version.
const Header = "Sessionmux-Version"

type contextKey string

const versionKey contextKey = "api-version"

// Supported reports whether v is a known version.
func Supported(v string) bool {
	return supported[v]
}

// FromContext returns the API version from the context, or LatestVersion.
func FromContext(ctx context.Context) string {
	v, ok := ctx.Value(versionKey).(string)
	if !ok || v == "" {
		return LatestVersion
	}
	return v
}

// WithContext returns a new context with the API version set.
func WithContext(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, versionKey, version)
}
