// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/argmend/services/argmend"
	"github.com/AleutianAI/argmend/services/argmend/audit"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNormalizeCommand(t *testing.T) {
	out, err := runCLI(t, "", "normalize", "--tool", "web_search", "--args", `{"q":"golang","top_k":37}`)
	require.NoError(t, err)

	var got normalizeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "golang", got.Arguments["query"])
	assert.Equal(t, float64(20), got.Arguments["max_results"])
	assert.Len(t, got.Corrections, 3)
	assert.Empty(t, got.Error)
}

func TestNormalizeCommand_Stdin(t *testing.T) {
	out, err := runCLI(t, `{"keyword":"北京 天安门,故宫"}`, "normalize", "--tool", "poi_search", "--args", "-")
	require.NoError(t, err)

	var got normalizeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "北京|天安门|故宫", got.Arguments["keywords"])
}

func TestNormalizeCommand_MissingRequired(t *testing.T) {
	out, err := runCLI(t, "", "normalize", "--tool", "web_search")
	require.Error(t, err)

	var got normalizeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Contains(t, got.Error, "query")
	assert.NotEmpty(t, got.Corrections, "the default is still reported")
}

func TestNormalizeCommand_RequiresTool(t *testing.T) {
	_, err := runCLI(t, "", "normalize")
	assert.Error(t, err)
}

func TestToolsCommand(t *testing.T) {
	out, err := runCLI(t, "", "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "web_search(query*, max_results, time_range, language)")
	assert.Contains(t, out, "call_api(endpoint*, method, ...)")
	assert.Contains(t, out, "strict")

	out, err = runCLI(t, "", "tools", "--json")
	require.NoError(t, err)
	var tools []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &tools))
	assert.Len(t, tools, 5)
}

func TestAuditCommand(t *testing.T) {
	dir := t.TempDir()

	store, err := audit.Open(audit.Config{Dir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), argmend.Event{
		ID:   "evt-1",
		Tool: "web_search",
		Time: time.Now().UTC(),
	}))
	require.NoError(t, store.Close())

	out, err := runCLI(t, "", "audit", "--dir", dir, "--tool", "web_search")
	require.NoError(t, err)
	var events []argmend.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "evt-1", events[0].ID)

	out, err = runCLI(t, "", "audit", "--dir", dir, "--id", "evt-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "evt-1"`)
}

func TestAuditCommand_NoDir(t *testing.T) {
	_, err := runCLI(t, "", "audit")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "json", "warn").Info("hidden")
	assert.Empty(t, buf.String())

	newLogger(&buf, "json", "warn").Warn("shown")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
