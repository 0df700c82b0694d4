// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package femrun

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/femrun/pkg/extensions"
)

const authInfoKey = "femrun.auth"

// authenticate checks the bearer token and authorizes the request: GET
// routes are reads, everything else executes.
func (h *Handlers) authenticate(c *gin.Context) {
	ext := h.svc.ext
	token, _ := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	info, err := ext.AuthProvider.Validate(c.Request.Context(), strings.TrimSpace(token))
	if err != nil {
		h.logger(c, "authenticate").Warn("authentication failed", "error", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: "UNAUTHORIZED"})
		return
	}

	action := extensions.ActionExecute
	if c.Request.Method == http.MethodGet {
		action = extensions.ActionRead
	}
	req := extensions.AuthzRequest{User: info, Action: action, Resource: c.FullPath()}
	if err := ext.AuthzProvider.Authorize(c.Request.Context(), req); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, extensions.ErrUnauthorized) {
			status = http.StatusUnauthorized
		}
		h.logger(c, "authenticate").Warn("request denied", "user", info.UserID, "action", action, "error", err)
		c.AbortWithStatusJSON(status, ErrorResponse{Error: "forbidden", Code: "FORBIDDEN"})
		return
	}
	c.Set(authInfoKey, info)
	c.Next()
}
