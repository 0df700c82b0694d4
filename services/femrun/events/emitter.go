// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler processes an event.
type Handler func(event *Event)

type subscription struct {
	id      string
	handler Handler
	types   []Type
}

// Emitter broadcasts events to subscribers.
//
// Thread Safety: Emitter is safe for concurrent use. Handlers may
// subscribe or unsubscribe from inside a handler; the change applies to
// the next Emit.
type Emitter struct {
	mu         sync.RWMutex
	subs       []*subscription
	buffer     []Event
	bufferSize int
	source     string
	logger     *slog.Logger
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets how many recent events are kept. Zero disables
// buffering.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) {
		if size >= 0 {
			e.bufferSize = size
		}
	}
}

// WithSource stamps every event with the given source name.
func WithSource(source string) EmitterOption {
	return func(e *Emitter) {
		e.source = source
	}
}

// WithLogger sets the logger used to report handler panics.
func WithLogger(logger *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEmitter creates a new event emitter.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		bufferSize: 256,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Source returns the name stamped on emitted events.
func (e *Emitter) Source() string {
	return e.source
}

// Subscribe registers a handler.
//
// Inputs:
//
//	handler - Function to call for each matching event.
//	types - Event types to receive (none = all types).
//
// Outputs:
//
//	string - Subscription ID for Unsubscribe.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &subscription{
		id:      uuid.NewString(),
		handler: handler,
		types:   types,
	}
	e.subs = append(e.subs, sub)
	return sub.id
}

// Unsubscribe removes a subscription. Returns false if id is unknown.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, sub := range e.subs {
		if sub.id == id {
			e.subs = slices.Delete(e.subs, i, i+1)
			return true
		}
	}
	return false
}

// Emit broadcasts an event to matching subscribers in subscription order.
//
// Description:
//
//	The subscriber list is snapshotted under the lock and handlers are
//	invoked without holding it. Handler panics are recovered so one bad
//	listener cannot break the others or the emitting task.
func (e *Emitter) Emit(eventType Type, data any) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    e.source,
		Timestamp: time.Now(),
		Data:      data,
	}

	e.mu.Lock()
	subs := slices.Clone(e.subs)
	if e.bufferSize > 0 {
		if len(e.buffer) >= e.bufferSize {
			e.buffer = e.buffer[1:]
		}
		e.buffer = append(e.buffer, event)
	}
	e.mu.Unlock()

	for _, sub := range subs {
		if sub.matches(eventType) {
			e.safeInvoke(sub.handler, &event)
		}
	}
}

func (e *Emitter) safeInvoke(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				"event_type", event.Type,
				"source", event.Source,
				"panic", r,
			)
		}
	}()
	handler(event)
}

func (s *subscription) matches(t Type) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Buffer returns a copy of the recent events.
func (e *Emitter) Buffer() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.buffer)
}

// BufferByType returns recent events of one type.
func (e *Emitter) BufferByType(eventType Type) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Event
	for _, event := range e.buffer {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// ClearBuffer drops the recent-event buffer.
func (e *Emitter) ClearBuffer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = nil
}

// SubscriptionCount returns the number of active subscriptions.
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}
