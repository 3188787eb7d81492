package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	toolrt "github.com/jlceaser/go-toolrt"
)

func registerTools(reg *toolrt.Registry) {
	defs := []toolrt.ToolDef{
		{
			Name:        "echo",
			Description: "Echoes back the given text.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
			Handler:     echoTool,
			Category:    "demo",
		},
		{
			Name:        "add",
			Description: "Adds two numbers.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"}},"required":["a","b"]}`),
			Handler:     addTool,
			Category:    "demo",
		},
		{
			Name:        "text_diff",
			Description: "Computes a line-level diff between two texts.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"old":{"type":"string"},"new":{"type":"string"}},"required":["old","new"]}`),
			Handler:     textDiffTool,
			Category:    "text",
		},
		{
			Name:        "simulate_frame",
			Description: "Simulates a slow operation bound to the cooperative execution context.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"millis":{"type":"integer"}}}`),
			Handler:     simulateFrameTool,
			Affine:      true,
			Priority:    toolrt.PriorityLow,
			Category:    "demo",
		},
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			panic(fmt.Sprintf("register %s: %v", def.Name, err))
		}
	}
}

func echoTool(_ context.Context, args json.RawMessage) (toolrt.CallToolResult, error) {
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return toolrt.CallToolResult{}, fmt.Errorf("decode arguments: %w", err)
	}
	return toolrt.TextResult(in.Text), nil
}

func addTool(_ context.Context, args json.RawMessage) (toolrt.CallToolResult, error) {
	var in struct {
		A float64 `json:"a"`
		B float64 `json:"b"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return toolrt.CallToolResult{}, fmt.Errorf("decode arguments: %w", err)
	}
	return toolrt.TextResult(formatNumber(in.A + in.B)), nil
}

// formatNumber renders whole values without a decimal part.
func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

func textDiffTool(_ context.Context, args json.RawMessage) (toolrt.CallToolResult, error) {
	var in struct {
		Old string `json:"old"`
		New string `json:"new"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return toolrt.CallToolResult{}, fmt.Errorf("decode arguments: %w", err)
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(in.Old, in.New, true)

	var sb strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			fmt.Fprintf(&sb, "+%s\n", d.Text)
		case diffmatchpatch.DiffDelete:
			fmt.Fprintf(&sb, "-%s\n", d.Text)
		case diffmatchpatch.DiffEqual:
			fmt.Fprintf(&sb, " %s\n", d.Text)
		}
	}
	return toolrt.TextResult(sb.String()), nil
}

func simulateFrameTool(ctx context.Context, args json.RawMessage) (toolrt.CallToolResult, error) {
	var in struct {
		Millis int `json:"millis"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return toolrt.CallToolResult{}, fmt.Errorf("decode arguments: %w", err)
		}
	}
	if in.Millis <= 0 {
		in.Millis = 50
	}

	select {
	case <-time.After(time.Duration(in.Millis) * time.Millisecond):
	case <-ctx.Done():
		return toolrt.CallToolResult{}, ctx.Err()
	}
	return toolrt.TextResult(fmt.Sprintf("simulated %dms of frame work", in.Millis)), nil
}
