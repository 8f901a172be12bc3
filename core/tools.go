package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brightboard/tutor-core/core/canvas"
	"github.com/brightboard/tutor-core/core/llms"
	"github.com/brightboard/tutor-core/core/mcp"
)

// ToolSource exposes the connected tool servers and the calls against
// them. *mcp.Registry is the production implementation.
type ToolSource interface {
	mcp.Executor
	ServerIDs() []string
}

// catalogTool binds a model-facing tool declaration to the server that
// executes it. Built-in tools keep an empty serverID and execute in
// process.
type catalogTool struct {
	llms.Tool
	serverID string
}

// buildToolCatalog lists every tool of every server the brain is allowed
// to use. A server that fails to list is skipped rather than failing the
// turn; the model simply has fewer tools that round.
func buildToolCatalog(ctx context.Context, source ToolSource, brain Brain) []catalogTool {
	if source == nil {
		return nil
	}

	var catalog []catalogTool
	for _, serverID := range source.ServerIDs() {
		if !brain.allowsServer(serverID) {
			continue
		}

		descriptions, err := source.ListTools(ctx, serverID)
		if err != nil {
			logger.WarnContext(ctx, "skipping tool server",
				"serverId", serverID, "error", err)
			continue
		}

		for _, description := range descriptions {
			catalog = append(catalog, catalogTool{
				Tool: llms.NewRawTool(
					qualifiedToolName(serverID, description.Name),
					description.Description,
					description.InputSchema,
					nil,
				),
				serverID: serverID,
			})
		}
	}
	return catalog
}

// builtinTools are always in the catalog regardless of brain. They run in
// process against the turn that is executing them.
func builtinTools(loop *agentLoop) []catalogTool {
	type noteArguments struct {
		Text string `json:"text" jsonschema:"description=Text of the note,required"`
	}

	return []catalogTool{{
		Tool: llms.NewTool(
			"pin_note",
			"Pin a short text note onto the student's canvas.",
			map[string]llms.ParameterBase{
				"text": {Type: "string", Description: "Text of the note"},
			},
			func(args noteArguments) (string, error) {
				artifact, err := canvas.NewNote(canvas.NotePayload{Text: args.Text})
				if err != nil {
					return "", err
				}
				loop.placeArtifact(loop.turn.ctx, artifact)
				return "note pinned to the canvas", nil
			},
		),
	}}
}

// Tool names are qualified with their server so two servers may declare
// the same tool without colliding in the model's catalog.
func qualifiedToolName(serverID, tool string) string {
	return serverID + "__" + tool
}

func splitToolName(qualified string) (serverID, tool string) {
	if i := strings.Index(qualified, "__"); i >= 0 {
		return qualified[:i], qualified[i+2:]
	}
	return "", qualified
}

func findCatalogTool(catalog []catalogTool, name string) (catalogTool, bool) {
	for _, tool := range catalog {
		if tool.Name == name {
			return tool, true
		}
	}
	return catalogTool{}, false
}

// artifactsFromResult converts a tool result's media blocks into canvas
// artifacts. Text blocks stay behind as model feedback; only blocks the
// renderer can draw become artifacts.
func artifactsFromResult(result *mcp.Result) ([]canvas.Artifact, error) {
	if result == nil {
		return nil, nil
	}

	var artifacts []canvas.Artifact
	for _, block := range result.Content {
		artifact, ok, err := blockArtifact(block)
		if err != nil {
			return artifacts, err
		}
		if ok {
			artifacts = append(artifacts, artifact)
		}
	}
	return artifacts, nil
}

func blockArtifact(block mcp.ContentBlock) (canvas.Artifact, bool, error) {
	switch block.Type {
	case "image":
		artifact, err := canvas.NewImage(canvas.ImagePayload{
			MimeType: block.MimeType,
			Data:     block.Data,
			AltText:  block.Text,
		})
		return artifact, err == nil, err
	case "video":
		artifact, err := canvas.NewVideo(canvas.VideoPayload{
			MimeType: block.MimeType,
			Data:     block.Data,
		})
		return artifact, err == nil, err
	case "text":
		// Some servers return renderable sources as typed text blocks.
		switch block.MimeType {
		case "text/x-latex":
			artifact, err := canvas.NewEquation(canvas.EquationPayload{LaTeX: block.Text})
			return artifact, err == nil, err
		case "text/vnd.mermaid":
			artifact, err := canvas.NewDiagram(canvas.DiagramPayload{Format: "mermaid", Source: block.Text})
			return artifact, err == nil, err
		}
		if language, ok := strings.CutPrefix(block.MimeType, "text/x-"); ok {
			artifact, err := canvas.NewCode(canvas.CodePayload{Language: language, Code: block.Text})
			return artifact, err == nil, err
		}
		return canvas.Artifact{}, false, nil
	}
	return canvas.Artifact{}, false, nil
}

// referencePhrases derives the phrases narration is likely to use when
// pointing at an artifact, from whatever captions its payload carries.
func referencePhrases(artifact canvas.Artifact) []string {
	var phrases []string
	switch artifact.Type {
	case canvas.TypeEquation:
		var payload canvas.EquationPayload
		if err := decodePayload(artifact, &payload); err == nil && payload.Caption != "" {
			phrases = append(phrases, payload.Caption)
		}
	case canvas.TypeCode:
		var payload canvas.CodePayload
		if err := decodePayload(artifact, &payload); err == nil && payload.Title != "" {
			phrases = append(phrases, payload.Title)
		}
	case canvas.TypeImage:
		var payload canvas.ImagePayload
		if err := decodePayload(artifact, &payload); err == nil && payload.AltText != "" {
			phrases = append(phrases, payload.AltText)
		}
	}
	return phrases
}

func decodePayload(artifact canvas.Artifact, into any) error {
	if err := json.Unmarshal(artifact.Payload, into); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", artifact.Type, err)
	}
	return nil
}
