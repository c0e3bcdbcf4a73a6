// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rngd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/qrng/pkg/qrng"
	"github.com/AleutianAI/qrng/pkg/validation"
)

// =============================================================================
// Query Types
// =============================================================================

// BytesQuery is the query of GET /v1/random/bytes.
type BytesQuery struct {
	N int `form:"n" binding:"required,gte=1"`
}

// Range32Query is the query of GET /v1/random/range32.
type Range32Query struct {
	Min *int32 `form:"min" binding:"required"`
	Max *int32 `form:"max" binding:"required"`
}

// Range64Query is the query of GET /v1/random/range64.
type Range64Query struct {
	Min *uint64 `form:"min" binding:"required"`
	Max *uint64 `form:"max" binding:"required"`
}

// StreamQuery is the query of GET /v1/random/stream.
type StreamQuery struct {
	Chunk int `form:"chunk" binding:"required,gte=1"`
	Count int `form:"count" binding:"required,gte=1"`
}

// Handlers contains the HTTP handlers for rngd.
type Handlers struct {
	server   *Server
	upgrader websocket.Upgrader
}

// NewHandlers creates handlers bound to s.
func NewHandlers(s *Server) *Handlers {
	return &Handlers{
		server: s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// HandleHealth handles GET /health.
//
// Response:
//
//	200 OK: HealthResponse with status "healthy" or "degraded"
//	503 Service Unavailable: the engine cannot serve requests
func (h *Handlers) HandleHealth(c *gin.Context) {
	var stats qrng.Stats
	err := h.server.engine.Do(func(ctx *qrng.Context) error {
		var err error
		stats, err = ctx.Stats()
		return err
	})
	if err != nil {
		h.logger(c, "HandleHealth").Warn("Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:  "unhealthy",
			Version: qrng.Version(),
		})
		return
	}

	status := "healthy"
	if stats.Degraded {
		status = "degraded"
	}
	c.JSON(http.StatusOK, HealthResponse{Status: status, Version: qrng.Version()})
}

// HandleBytes handles GET /v1/random/bytes.
//
// Query Parameters:
//
//	n - number of bytes, 1..MaxBytes
//
// Response:
//
//	200 OK: BytesResponse
//	400 Bad Request: missing or out of range n
//	503 Service Unavailable: entropy supply problem, retry later
func (h *Handlers) HandleBytes(c *gin.Context) {
	logger := h.logger(c, "HandleBytes")

	var q BytesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, logger, CodeInvalidRequest, "Invalid query: n must be a positive integer", err)
		return
	}
	if q.N > h.server.cfg.MaxBytes {
		h.badRequest(c, logger, CodeTooLarge, "n exceeds the per-request limit", nil)
		return
	}

	buf := make([]byte, q.N)
	if err := h.server.engine.Do(func(ctx *qrng.Context) error { return ctx.Fill(buf) }); err != nil {
		h.engineError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, BytesResponse{Hex: hex.EncodeToString(buf), Length: len(buf)})
}

// HandleUint64 handles GET /v1/random/uint64.
func (h *Handlers) HandleUint64(c *gin.Context) {
	var v uint64
	err := h.server.engine.Do(func(ctx *qrng.Context) error {
		var err error
		v, err = ctx.Uint64()
		return err
	})
	if err != nil {
		h.engineError(c, h.logger(c, "HandleUint64"), err)
		return
	}
	c.JSON(http.StatusOK, Uint64Response{Value: v})
}

// HandleDouble handles GET /v1/random/double.
func (h *Handlers) HandleDouble(c *gin.Context) {
	var v float64
	err := h.server.engine.Do(func(ctx *qrng.Context) error {
		var err error
		v, err = ctx.Float64()
		return err
	})
	if err != nil {
		h.engineError(c, h.logger(c, "HandleDouble"), err)
		return
	}
	c.JSON(http.StatusOK, DoubleResponse{Value: v})
}

// HandleRange32 handles GET /v1/random/range32.
//
// Query Parameters:
//
//	min, max - inclusive signed 32-bit bounds, min <= max
//
// Response:
//
//	200 OK: Int32Response
//	400 Bad Request: missing, malformed or inverted bounds
func (h *Handlers) HandleRange32(c *gin.Context) {
	logger := h.logger(c, "HandleRange32")

	var q Range32Query
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, logger, CodeInvalidRequest, "Invalid query: min and max must be 32-bit integers", err)
		return
	}

	var v int32
	err := h.server.engine.Do(func(ctx *qrng.Context) error {
		var err error
		v, err = ctx.Range32(*q.Min, *q.Max)
		return err
	})
	if err != nil {
		h.engineError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, Int32Response{Value: v, Min: *q.Min, Max: *q.Max})
}

// HandleRange64 handles GET /v1/random/range64.
//
// Query Parameters:
//
//	min, max - inclusive unsigned 64-bit bounds, min <= max
func (h *Handlers) HandleRange64(c *gin.Context) {
	logger := h.logger(c, "HandleRange64")

	var q Range64Query
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, logger, CodeInvalidRequest, "Invalid query: min and max must be unsigned 64-bit integers", err)
		return
	}

	var v uint64
	err := h.server.engine.Do(func(ctx *qrng.Context) error {
		var err error
		v, err = ctx.Range64(*q.Min, *q.Max)
		return err
	})
	if err != nil {
		h.engineError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, Range64Response{Value: v, Min: *q.Min, Max: *q.Max})
}

// HandleEntangle handles POST /v1/entangle.
//
// Description:
//
//	Decodes both hex buffers, entangles them and returns the mixed
//	contents. The buffers must decode to the same length.
//
// Request Body:
//
//	EntangleRequest
//
// Response:
//
//	200 OK: EntangleResponse
//	400 Bad Request: malformed body, bad hex, over MaxBytes or length
//	mismatch
//	413 Request Entity Too Large: body over Config.BodyLimit
func (h *Handlers) HandleEntangle(c *gin.Context) {
	logger := h.logger(c, "HandleEntangle")

	var req EntangleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bodyError(c, logger, err)
		return
	}
	states, err := validation.DecodeStates([]string{"a", "b"}, []string{req.A, req.B}, h.server.cfg.MaxBytes)
	if err != nil {
		h.stateError(c, logger, err)
		return
	}
	a, b := states[0], states[1]

	if err := h.server.engine.Do(func(ctx *qrng.Context) error { return ctx.Entangle(a, b) }); err != nil {
		h.engineError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, EntangleResponse{A: hex.EncodeToString(a), B: hex.EncodeToString(b)})
}

// HandleMeasure handles POST /v1/measure.
//
// Request Body:
//
//	MeasureRequest
//
// Response:
//
//	200 OK: MeasureResponse with a state of the same length
//	400 Bad Request: malformed body, bad hex or over MaxBytes
//	413 Request Entity Too Large: body over Config.BodyLimit
func (h *Handlers) HandleMeasure(c *gin.Context) {
	logger := h.logger(c, "HandleMeasure")

	var req MeasureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bodyError(c, logger, err)
		return
	}
	state, err := validation.DecodeState(req.State, h.server.cfg.MaxBytes)
	if err != nil {
		h.stateError(c, logger, err)
		return
	}

	if err := h.server.engine.Do(func(ctx *qrng.Context) error { return ctx.Measure(state) }); err != nil {
		h.engineError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, MeasureResponse{State: hex.EncodeToString(state)})
}

// HandleEntropy handles GET /v1/entropy.
func (h *Handlers) HandleEntropy(c *gin.Context) {
	var resp EntropyResponse
	err := h.server.engine.Do(func(ctx *qrng.Context) error {
		var err error
		if resp.Estimate, err = ctx.EntropyEstimate(); err != nil {
			return err
		}
		resp.Stats, err = ctx.Stats()
		return err
	})
	if err != nil {
		h.engineError(c, h.logger(c, "HandleEntropy"), err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleStream handles GET /v1/random/stream.
//
// Description:
//
//	Upgrades to a websocket and sends count binary frames of chunk random
//	bytes each, then closes normally. An engine failure mid-stream closes
//	the socket with CloseInternalServerErr and the error code as reason.
//	Query validation happens before the upgrade so that bad requests get
//	a JSON error.
//
// Query Parameters:
//
//	chunk - bytes per frame, 1..MaxBytes
//	count - number of frames, 1..MaxStreamChunks
func (h *Handlers) HandleStream(c *gin.Context) {
	logger := h.logger(c, "HandleStream")

	var q StreamQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, logger, CodeInvalidRequest, "Invalid query: chunk and count must be positive integers", err)
		return
	}
	if q.Chunk > h.server.cfg.MaxBytes || q.Count > h.server.cfg.MaxStreamChunks {
		h.badRequest(c, logger, CodeTooLarge, "chunk or count exceeds the stream limit", nil)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	buf := make([]byte, q.Chunk)
	for i := 0; i < q.Count; i++ {
		if err := h.server.engine.Do(func(ctx *qrng.Context) error { return ctx.Fill(buf) }); err != nil {
			_, code := StatusFor(err)
			logger.Error("Stream aborted", "frame", i, "error", err)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, code),
				time.Now().Add(time.Second))
			return
		}
		_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := ws.WriteMessage(websocket.BinaryMessage, buf); err != nil {
			logger.Info("Stream client went away", "frame", i, "error", err)
			return
		}
	}

	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	logger.Debug("Stream complete", "frames", q.Count, "chunk", q.Chunk)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handlers) logger(c *gin.Context, handler string) *slog.Logger {
	return h.server.logger.With("request_id", c.GetString(requestIDKey), "handler", handler)
}

func (h *Handlers) badRequest(c *gin.Context, logger *slog.Logger, code, msg string, err error) {
	if err != nil {
		logger.Warn(msg, "error", err)
	} else {
		logger.Warn(msg)
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: code})
}

// bodyError reports a JSON binding failure. A body cut off by limitBody is
// REQUEST_TOO_LARGE, anything else INVALID_REQUEST.
func (h *Handlers) bodyError(c *gin.Context, logger *slog.Logger, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		logger.Warn("Request body over limit", "limit", tooBig.Limit)
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: fmt.Sprintf("Request body exceeds %d bytes", tooBig.Limit),
			Code:  CodeTooLarge,
		})
		return
	}
	h.badRequest(c, logger, CodeInvalidRequest, "Invalid request body", err)
}

// stateError reports a hex state that failed validation.
func (h *Handlers) stateError(c *gin.Context, logger *slog.Logger, err error) {
	code := CodeInvalidRequest
	if errors.Is(err, validation.ErrTooLong) {
		code = CodeTooLarge
	}
	h.badRequest(c, logger, code, "Invalid state: "+err.Error(), err)
}

func (h *Handlers) engineError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := StatusFor(err)
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		logger.Error("Engine operation failed", "code", code, "error", err)
	default:
		logger.Warn("Engine operation rejected", "code", code, "error", err)
	}
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}
