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
	"encoding/json"

	"github.com/AleutianAI/argmend/services/argmend/normalizer"
	"github.com/AleutianAI/argmend/services/argmend/schema"
)

// =============================================================================
// Request Types
// =============================================================================

// NormalizeRequest is the body of POST /v1/argmend/normalize.
type NormalizeRequest struct {
	// Tool is the tool name. Required.
	Tool string `json:"tool" binding:"required"`

	// Arguments is the raw argument object, or a JSON string holding it.
	Arguments json.RawMessage `json:"arguments"`

	// Schema optionally supplies the descriptor of a tool the registry does
	// not know. When set it takes precedence over the registered schema.
	Schema *schema.ToolSchema `json:"schema,omitempty"`
}

// BatchRequest is the body of POST /v1/argmend/normalize/batch.
type BatchRequest struct {
	Calls []BatchCall `json:"calls" binding:"required,min=1,dive"`
}

// BatchCall is one entry of a BatchRequest.
type BatchCall struct {
	Tool      string          `json:"tool" binding:"required"`
	Arguments json.RawMessage `json:"arguments"`
}

// =============================================================================
// Response Types
// =============================================================================

// NormalizeResponse is returned for a successful normalization.
type NormalizeResponse struct {
	Tool        string                        `json:"tool"`
	Arguments   map[string]any                `json:"arguments"`
	Corrections []normalizer.CorrectionRecord `json:"corrections"`
}

// BatchItem is the outcome of one batch call.
type BatchItem struct {
	Tool        string                        `json:"tool"`
	Arguments   map[string]any                `json:"arguments,omitempty"`
	Corrections []normalizer.CorrectionRecord `json:"corrections,omitempty"`
	Error       string                        `json:"error,omitempty"`
	Code        string                        `json:"code,omitempty"`
	Missing     []string                      `json:"missing,omitempty"`
}

// BatchResponse is returned by POST /v1/argmend/normalize/batch.
type BatchResponse struct {
	Results []BatchItem `json:"results"`
	Failed  int         `json:"failed"`
}

// ToolInfo describes one registered tool.
type ToolInfo struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Parameters  map[string]any    `json:"parameters"`
	Strict      bool              `json:"strict,omitempty"`
	Aliases     map[string]string `json:"aliases,omitempty"`
}

// ToolsResponse is returned by GET /v1/argmend/tools.
type ToolsResponse struct {
	Tools []ToolInfo `json:"tools"`
	Count int        `json:"count"`
}

// HealthResponse is returned by GET /v1/argmend/health.
type HealthResponse struct {
	Status string `json:"status"`
	Tools  int    `json:"tools"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error       string                        `json:"error"`
	Code        string                        `json:"code,omitempty"`
	Tool        string                        `json:"tool,omitempty"`
	Missing     []string                      `json:"missing,omitempty"`
	Invalid     []string                      `json:"invalid,omitempty"`
	Corrections []normalizer.CorrectionRecord `json:"corrections,omitempty"`
}

// Error codes used in ErrorResponse.Code.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeInvalidArguments = "INVALID_ARGUMENTS"
	CodeUnknownTool      = "UNKNOWN_TOOL"
	CodeMissingRequired  = "MISSING_REQUIRED"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeBatchTooLarge    = "BATCH_TOO_LARGE"
	CodeInternal         = "INTERNAL_ERROR"
)
