// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the access-control hooks of the femrun
// server.
//
// A local server runs with the no-op defaults, which admit every request.
// Deployments that expose the API set a token in the config, or inject
// their own providers through Options.
//
// All implementations must be safe for concurrent use.
package extensions

// Options groups the extension points passed to the server.
//
// Example:
//
//	opts := extensions.DefaultOptions()
//	if token != "" {
//	    opts = opts.WithAuth(extensions.NewTokenAuthProvider(token))
//	}
type Options struct {
	// AuthProvider identifies the caller. Defaults to NopAuthProvider.
	AuthProvider AuthProvider

	// AuthzProvider decides whether the caller may act. Defaults to
	// NopAuthzProvider.
	AuthzProvider AuthzProvider
}

// DefaultOptions returns Options with no-op implementations.
func DefaultOptions() Options {
	return Options{
		AuthProvider:  &NopAuthProvider{},
		AuthzProvider: &NopAuthzProvider{},
	}
}

// WithAuth returns a copy with the authentication provider replaced.
func (opts Options) WithAuth(provider AuthProvider) Options {
	opts.AuthProvider = provider
	return opts
}

// WithAuthz returns a copy with the authorization provider replaced.
func (opts Options) WithAuthz(provider AuthzProvider) Options {
	opts.AuthzProvider = provider
	return opts
}
