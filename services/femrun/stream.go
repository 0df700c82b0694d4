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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/femrun/services/femrun/events"
	"github.com/AleutianAI/femrun/services/femrun/machine"
)

// StreamMessage is one websocket frame of GET /v1/femrun/machines/stream.
type StreamMessage struct {
	Type    events.Type     `json:"type"`
	Machine string          `json:"machine"`
	Line    string          `json:"line,omitempty"`
	Stage   string          `json:"stage,omitempty"`
	Reset   bool            `json:"reset,omitempty"`
	Status  *machine.Status `json:"status,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

const (
	streamWriteWait = 10 * time.Second
	streamPingEvery = 30 * time.Second
	streamQueue     = 256
)

// HandleStream handles GET /v1/femrun/machines/stream?document=&solver=.
//
// Description:
//
//	Upgrades to a websocket and forwards the machine's solver output lines,
//	stage changes and run completions until the client disconnects. The
//	first frame is a "stopped" frame carrying the current status. Lines
//	are dropped rather than blocking the solver when the client is slow.
func (h *Handlers) HandleStream(c *gin.Context) {
	logger := h.logger(c, "HandleStream")

	ref := MachineRef{Document: c.Query("document"), Solver: c.Query("solver")}
	if ref.Document == "" || ref.Solver == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "document and solver are required",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	mc, err := h.svc.machine(ref)
	if err != nil {
		writeError(c, logger, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	logger.Info("stream client connected", "machine", mc.Name())

	queue := make(chan StreamMessage, streamQueue)
	push := func(m StreamMessage) {
		select {
		case queue <- m:
		default:
		}
	}
	status := func() *machine.Status {
		st := mc.Status()
		return &st
	}

	solveTask := mc.StageTask(machine.StageSolve)
	lineSub := solveTask.Subscribe(func(e *events.Event) {
		if d, ok := e.Data.(events.LineData); ok {
			push(StreamMessage{Type: events.TypeLine, Machine: mc.Name(), Line: d.Line})
		}
	}, events.TypeLine)
	defer solveTask.Events().Unsubscribe(lineSub)

	machineSub := mc.Subscribe(func(e *events.Event) {
		switch e.Type {
		case events.TypeStageChanged:
			d, _ := e.Data.(events.StageData)
			push(StreamMessage{
				Type:    events.TypeStageChanged,
				Machine: mc.Name(),
				Stage:   machine.Stage(d.To).String(),
				Reset:   d.Reset,
			})
		case events.TypeStarted, events.TypeStopped:
			push(StreamMessage{Type: e.Type, Machine: mc.Name(), Status: status()})
		}
	}, events.TypeStageChanged, events.TypeStarted, events.TypeStopped)
	defer mc.Events().Unsubscribe(machineSub)

	// The reader only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	push(StreamMessage{Type: events.TypeStopped, Machine: mc.Name(), Status: status()})
	if mc.Running() {
		push(StreamMessage{Type: events.TypeStarted, Machine: mc.Name(), Status: status()})
	}

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			logger.Info("stream client disconnected", "machine", mc.Name())
			return
		case <-c.Request.Context().Done():
			return
		case m := <-queue:
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := ws.WriteJSON(m); err != nil {
				logger.Warn("failed to write websocket frame", "error", err)
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
