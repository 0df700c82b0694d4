// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrUnauthorized is returned when the caller cannot be identified.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when an identified caller may not act.
	ErrForbidden = errors.New("forbidden")
)

// Roles known to the built-in providers.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// Actions checked by the server.
const (
	// ActionRead covers listing documents, machines, output and history.
	ActionRead = "read"

	// ActionExecute covers opening documents and running, aborting or
	// resetting machines.
	ActionExecute = "execute"
)

// AuthInfo is the identity of an authenticated caller.
type AuthInfo struct {
	// UserID is never empty.
	UserID string

	// Roles drive authorization.
	Roles []string
}

// HasRole reports whether the caller has role.
func (a *AuthInfo) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// AuthProvider validates a token and returns the caller's identity.
type AuthProvider interface {
	// Validate returns ErrUnauthorized (possibly wrapped) for a bad token.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// AuthzRequest is one authorization check: may User perform Action on
// Resource.
type AuthzRequest struct {
	User *AuthInfo

	// Action is ActionRead or ActionExecute.
	Action string

	// Resource is the route path, e.g. "/v1/femrun/machines/run".
	Resource string
}

// AuthzProvider decides authorization.
type AuthzProvider interface {
	// Authorize returns nil when allowed and ErrForbidden otherwise.
	Authorize(ctx context.Context, req AuthzRequest) error
}

// NopAuthProvider admits every token as a local operator.
type NopAuthProvider struct{}

func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: "local-user", Roles: []string{RoleOperator}}, nil
}

// NopAuthzProvider allows everything.
type NopAuthzProvider struct{}

func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

// TokenAuthProvider accepts a single shared bearer token.
type TokenAuthProvider struct {
	token []byte
}

// NewTokenAuthProvider returns a provider accepting exactly token.
func NewTokenAuthProvider(token string) *TokenAuthProvider {
	return &TokenAuthProvider{token: []byte(token)}
}

// Validate compares in constant time. A match is an operator.
func (p *TokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if len(p.token) == 0 || token == "" {
		return nil, fmt.Errorf("missing token: %w", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare(p.token, []byte(token)) != 1 {
		return nil, fmt.Errorf("invalid token: %w", ErrUnauthorized)
	}
	return &AuthInfo{UserID: "token", Roles: []string{RoleOperator}}, nil
}

// RoleAuthzProvider lets viewers read and operators do anything.
type RoleAuthzProvider struct{}

func (p *RoleAuthzProvider) Authorize(_ context.Context, req AuthzRequest) error {
	if req.User == nil {
		return fmt.Errorf("no identity: %w", ErrForbidden)
	}
	if req.User.HasRole(RoleOperator) {
		return nil
	}
	if req.Action == ActionRead && req.User.HasRole(RoleViewer) {
		return nil
	}
	return fmt.Errorf("user %s cannot %s %s: %w", req.User.UserID, req.Action, req.Resource, ErrForbidden)
}

var (
	_ AuthProvider  = (*NopAuthProvider)(nil)
	_ AuthProvider  = (*TokenAuthProvider)(nil)
	_ AuthzProvider = (*NopAuthzProvider)(nil)
	_ AuthzProvider = (*RoleAuthzProvider)(nil)
)
