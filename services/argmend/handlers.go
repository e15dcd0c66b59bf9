// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package argmend

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/argmend/services/argmend/normalizer"
	"github.com/AleutianAI/argmend/services/argmend/rules"
	"github.com/AleutianAI/argmend/services/argmend/schema"
)

// requestIDHeader carries a caller-supplied request ID.
const requestIDHeader = "X-Request-ID"

// Handlers serves the argmend HTTP endpoints.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	engine *Engine
	cfg    ServiceConfig
}

// NewHandlers creates handlers over engine.
func NewHandlers(engine *Engine, cfg ServiceConfig) *Handlers {
	return &Handlers{engine: engine, cfg: cfg}
}

func getOrCreateRequestID(c *gin.Context) string {
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Header(requestIDHeader, id)
	return id
}

func (h *Handlers) limitBody(c *gin.Context) {
	if h.cfg.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxBodyBytes)
	}
}

// HandleNormalize handles POST /v1/argmend/normalize.
//
// Description:
//
//	Normalizes one tool call. The registered schema of the tool is used
//	unless the request carries its own descriptor.
//
// Response:
//
//	200 OK: NormalizeResponse
//	400 Bad Request: Malformed body or arguments
//	404 Not Found: Unknown tool and no schema supplied
//	422 Unprocessable Entity: Missing required parameters, or invalid
//	    parameters of a strict tool
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleNormalize(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleNormalize")
	h.limitBody(c)

	var req NormalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
		return
	}

	ctx := c.Request.Context()
	var (
		res *normalizer.Result
		err error
	)
	if req.Schema != nil {
		var raw map[string]any
		raw, err = DecodeArguments(req.Arguments)
		if err == nil {
			ts := *req.Schema
			if ts.Name == "" {
				ts.Name = req.Tool
			}
			res, err = h.engine.Normalize(ctx, req.Tool, schema.Introspect(ts), raw)
		}
	} else {
		res, err = h.engine.NormalizeJSON(ctx, req.Tool, req.Arguments)
	}

	if err != nil {
		status, body := errorResponse(req.Tool, res, err)
		if status == http.StatusInternalServerError {
			logger.Error("normalization failed", slog.String("tool", req.Tool), slog.String("error", err.Error()))
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, NormalizeResponse{
		Tool:        res.Tool,
		Arguments:   res.Arguments,
		Corrections: res.Corrections,
	})
}

// HandleNormalizeBatch handles POST /v1/argmend/normalize/batch.
//
// Description:
//
//	Normalizes independent calls concurrently. The reply is 200 whenever
//	the batch itself is well-formed; per-call failures are reported in
//	each item.
//
// Response:
//
//	200 OK: BatchResponse
//	400 Bad Request: Malformed body, or more calls than max_batch_size
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleNormalizeBatch(c *gin.Context) {
	_ = getOrCreateRequestID(c)
	h.limitBody(c)

	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
		return
	}
	if h.cfg.MaxBatchSize > 0 && len(req.Calls) > h.cfg.MaxBatchSize {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "batch exceeds max_batch_size",
			Code:  CodeBatchTooLarge,
		})
		return
	}

	items := make([]BatchItem, len(req.Calls))
	calls := make([]Call, 0, len(req.Calls))
	index := make([]int, 0, len(req.Calls))
	for i, bc := range req.Calls {
		items[i].Tool = bc.Tool
		raw, err := DecodeArguments(bc.Arguments)
		if err != nil {
			items[i].Error = err.Error()
			items[i].Code = CodeInvalidArguments
			continue
		}
		calls = append(calls, Call{Tool: bc.Tool, Arguments: raw})
		index = append(index, i)
	}

	for j, cr := range h.engine.NormalizeBatch(c.Request.Context(), calls) {
		item := &items[index[j]]
		if cr.Result != nil {
			item.Arguments = cr.Result.Arguments
			item.Corrections = cr.Result.Corrections
		}
		if cr.Err != nil {
			_, body := errorResponse(item.Tool, cr.Result, cr.Err)
			item.Error = body.Error
			item.Code = body.Code
			item.Missing = body.Missing
		}
	}

	failed := 0
	for _, item := range items {
		if item.Error != "" {
			failed++
		}
	}
	c.JSON(http.StatusOK, BatchResponse{Results: items, Failed: failed})
}

// HandleGetTools handles GET /v1/argmend/tools.
//
// Response:
//
//	200 OK: ToolsResponse, tools sorted by name
func (h *Handlers) HandleGetTools(c *gin.Context) {
	reg := h.engine.Registry()
	schemas := reg.Tools()
	tools := make([]ToolInfo, 0, len(schemas))
	for _, ts := range schemas {
		tools = append(tools, toolInfo(reg, ts))
	}
	c.JSON(http.StatusOK, ToolsResponse{Tools: tools, Count: len(tools)})
}

// HandleGetTool handles GET /v1/argmend/tools/:name.
//
// Response:
//
//	200 OK: ToolInfo
//	404 Not Found: Tool not registered
func (h *Handlers) HandleGetTool(c *gin.Context) {
	name := c.Param("name")
	reg := h.engine.Registry()
	ts, ok := reg.Schema(name)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "tool not registered",
			Code:  CodeUnknownTool,
			Tool:  name,
		})
		return
	}
	c.JSON(http.StatusOK, toolInfo(reg, ts))
}

// toolInfo describes ts from the registry it was read from, so a reload
// between calls cannot mix two rule sets in one response.
func toolInfo(reg *rules.Registry, ts schema.ToolSchema) ToolInfo {
	tr := reg.Lookup(ts.Name)
	info := ToolInfo{
		Name:        ts.Name,
		Description: ts.Description,
		Parameters:  ts.ToJSONSchema(),
		Strict:      tr.Strict,
	}
	if len(tr.Aliases) > 0 {
		info.Aliases = tr.Aliases
	}
	return info
}

// HandleHealth handles GET /v1/argmend/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "healthy",
		Tools:  h.engine.Registry().Len(),
	})
}

// errorResponse maps an engine error to an HTTP status and body.
func errorResponse(tool string, res *normalizer.Result, err error) (int, ErrorResponse) {
	body := ErrorResponse{Error: err.Error(), Tool: tool}
	if res != nil {
		body.Corrections = res.Corrections
	}

	var missing *normalizer.MissingRequiredParametersError
	var invalid *normalizer.ValidationError
	switch {
	case errors.As(err, &missing):
		body.Code = CodeMissingRequired
		body.Missing = missing.Missing
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &invalid):
		body.Code = CodeValidationFailed
		body.Invalid = invalid.Params
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, ErrUnknownTool):
		body.Code = CodeUnknownTool
		return http.StatusNotFound, body
	case errors.Is(err, ErrInvalidArguments):
		body.Code = CodeInvalidArguments
		return http.StatusBadRequest, body
	default:
		body.Code = CodeInternal
		return http.StatusInternalServerError, body
	}
}
