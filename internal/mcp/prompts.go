package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const notesWorkflowPromptName = "notes_workflow"

const notesWorkflowText = "The user keeps personal plain-text notes with optional tags and a pinned flag. " +
	"Find notes with note_list (q searches title and content, tag matches one tag exactly) and read them with note_get. " +
	"Create with note_create. Change notes with note_update, passing only the fields that should change; tags replaces the whole list. " +
	"note_delete hides a note from every listing. Confirm with the user before deleting."

func registerPrompts(mcpServer *mcp.Server) {
	for _, prompt := range PromptDefinitions() {
		mcpServer.AddPrompt(prompt, promptHandler())
	}
}

// PromptDefinitions returns the MCP prompt definitions.
func PromptDefinitions() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        notesWorkflowPromptName,
			Title:       "Notes workflow",
			Description: "How to find, read, create, edit and delete notes with the note_* tools.",
		},
	}
}

func promptHandler() mcp.PromptHandler {
	return func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Description: PromptDefinitions()[0].Description,
			Messages: []*mcp.PromptMessage{
				{
					Role:    mcp.Role("user"),
					Content: &mcp.TextContent{Text: notesWorkflowText},
				},
			},
		}, nil
	}
}
