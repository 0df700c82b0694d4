// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cancel provides the cooperative cancellation token used by tasks.
//
// A Token couples a cancellable context.Context with a list of handlers.
// Cancel is idempotent: the first call cancels the context and runs every
// registered handler exactly once, later calls do nothing. Work routines
// either watch Context().Done() or Register a handler that stops them
// (for example by signalling a child process).
package cancel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Token.
type State int32

const (
	StateActive State = iota
	StateCancelled
)

// String returns "active" or "cancelled".
func (s State) String() string {
	if s == StateCancelled {
		return "cancelled"
	}
	return "active"
}

// Reason records why a token was cancelled.
type Reason struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type entry struct {
	id uint64
	fn func()
}

// Token is a one-shot cancellation signal.
//
// Thread Safety: Safe for concurrent use.
type Token struct {
	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers []entry
	nextID   uint64
	reason   *Reason
}

// NewToken creates an active token whose context derives from parent.
// Cancelling parent cancels the context but does not run handlers.
func NewToken(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Context returns the token's context.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Done is shorthand for Context().Done().
func (t *Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

// State returns the current state.
func (t *Token) State() State {
	return State(t.state.Load())
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	return t.State() == StateCancelled
}

// Reason returns the cancellation reason, nil while active.
func (t *Token) Reason() *Reason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Register adds a handler to run on cancellation.
//
// # Description
//
// Handlers run in registration order on the goroutine calling Cancel,
// outside the token's lock. Registering on a token that is already
// cancelled runs fn immediately on the caller's goroutine.
//
// # Outputs
//
//   - uint64: Handle for Deregister. Zero when fn ran immediately.
func (t *Token) Register(fn func()) uint64 {
	t.mu.Lock()
	if t.Cancelled() {
		t.mu.Unlock()
		fn()
		return 0
	}
	t.nextID++
	id := t.nextID
	t.handlers = append(t.handlers, entry{id: id, fn: fn})
	t.mu.Unlock()
	return id
}

// Deregister removes a handler. Returns false if it is not registered.
func (t *Token) Deregister(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, h := range t.handlers {
		if h.id == id {
			t.handlers = append(t.handlers[:i], t.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Cancel cancels the token.
//
// # Outputs
//
//   - bool: True for the call that performed the cancellation.
func (t *Token) Cancel(message string) bool {
	t.mu.Lock()
	if !t.state.CompareAndSwap(int32(StateActive), int32(StateCancelled)) {
		t.mu.Unlock()
		return false
	}
	t.reason = &Reason{Message: message, Timestamp: time.Now()}
	handlers := t.handlers
	t.handlers = nil
	t.mu.Unlock()

	t.cancel()
	for _, h := range handlers {
		h.fn()
	}
	return true
}

// Release frees the context resources of a token that was never
// cancelled. Handlers are dropped without running.
func (t *Token) Release() {
	t.mu.Lock()
	t.handlers = nil
	t.mu.Unlock()
	t.cancel()
}
