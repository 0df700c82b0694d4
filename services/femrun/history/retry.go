// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	maxRetries = 3
	baseDelay  = 25 * time.Millisecond
	maxDelay   = 400 * time.Millisecond
)

// transientMarkers appear in modernc.org/sqlite errors that clear up on
// their own once the competing writer commits.
var transientMarkers = []string{
	"SQLITE_BUSY",
	"SQLITE_LOCKED",
	"IOERR_SHORT_READ",
	"database is locked",
	"database table is locked",
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// retryOnContention runs fn, retrying transient lock errors with
// exponential backoff and jitter until ctx is done.
func retryOnContention(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = fn(); err == nil || !isTransient(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		delay := min(baseDelay<<attempt, maxDelay) + rand.N(baseDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
