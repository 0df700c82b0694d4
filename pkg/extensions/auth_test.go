// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions_AdmitEverything(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()

	info, err := opts.AuthProvider.Validate(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "local-user", info.UserID)
	assert.True(t, info.HasRole(RoleOperator))

	assert.NoError(t, opts.AuthzProvider.Authorize(ctx, AuthzRequest{User: info, Action: ActionExecute}))
}

func TestOptions_WithReplacesCopy(t *testing.T) {
	base := DefaultOptions()
	withToken := base.WithAuth(NewTokenAuthProvider("s3cret")).WithAuthz(&RoleAuthzProvider{})

	assert.IsType(t, &NopAuthProvider{}, base.AuthProvider)
	assert.IsType(t, &TokenAuthProvider{}, withToken.AuthProvider)
	assert.IsType(t, &RoleAuthzProvider{}, withToken.AuthzProvider)
}

func TestTokenAuthProvider(t *testing.T) {
	ctx := context.Background()
	p := NewTokenAuthProvider("s3cret")

	info, err := p.Validate(ctx, "s3cret")
	require.NoError(t, err)
	assert.True(t, info.HasRole(RoleOperator))

	for _, token := range []string{"", "s3cre", "s3cret2", "S3CRET"} {
		_, err := p.Validate(ctx, token)
		assert.ErrorIs(t, err, ErrUnauthorized, token)
	}

	_, err = NewTokenAuthProvider("").Validate(ctx, "anything")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRoleAuthzProvider(t *testing.T) {
	ctx := context.Background()
	p := &RoleAuthzProvider{}
	viewer := &AuthInfo{UserID: "v", Roles: []string{RoleViewer}}
	operator := &AuthInfo{UserID: "o", Roles: []string{RoleOperator}}
	nobody := &AuthInfo{UserID: "n"}

	tests := []struct {
		name    string
		user    *AuthInfo
		action  string
		allowed bool
	}{
		{"viewer reads", viewer, ActionRead, true},
		{"viewer executes", viewer, ActionExecute, false},
		{"operator executes", operator, ActionExecute, true},
		{"no roles", nobody, ActionRead, false},
		{"no identity", nil, ActionRead, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Authorize(ctx, AuthzRequest{User: tt.user, Action: tt.action, Resource: "/v1/femrun/machines"})
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}
