package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

// Tool names.
const (
	ToolNoteList   = "note_list"
	ToolNoteGet    = "note_get"
	ToolNoteCreate = "note_create"
	ToolNoteUpdate = "note_update"
	ToolNoteDelete = "note_delete"
)

var noteFieldProperties = map[string]any{
	"title": map[string]any{
		"type":        "string",
		"description": "Note title. Empty titles display as \"Untitled\".",
	},
	"content": map[string]any{
		"type":        "string",
		"description": "Plain-text body of the note",
	},
	"tags": map[string]any{
		"type":        "array",
		"description": "Tags, matched exactly by note_list's tag filter",
		"items":       map[string]any{"type": "string"},
	},
	"pinned": map[string]any{
		"type":        "boolean",
		"description": "Pinned notes are listed first",
	},
}

func withID(props map[string]any) map[string]any {
	out := map[string]any{
		"id": map[string]any{
			"type":        "string",
			"description": "The unique identifier of the note",
		},
	}
	for k, v := range props {
		out[k] = v
	}
	return out
}

// NoteToolDefinitions returns the notes MCP tool definitions.
func NoteToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        ToolNoteList,
			Description: "List notes, pinned first and then most recently updated. Optional filters: q (case-insensitive substring of title or content, matched literally), tag (exact tag), pinned. Returns id, title, a two-line preview, tags, pinned and timestamps for each note. Use note_get to read full content.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"q": map[string]any{
						"type":        "string",
						"description": "Substring to search for in title and content",
					},
					"tag": map[string]any{
						"type":        "string",
						"description": "Only notes carrying exactly this tag",
					},
					"pinned": map[string]any{
						"type":        "boolean",
						"description": "Only pinned (true) or unpinned (false) notes",
					},
				},
			},
		},
		{
			Name:        ToolNoteGet,
			Description: "Read one note in full. The response includes content_numbered (tab-separated, 1-indexed line numbers) and total_lines for reference.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": withID(nil),
				"required":   []string{"id"},
			},
		},
		{
			Name:        ToolNoteCreate,
			Description: "Create a note. Every field is optional: title and content default to empty, tags to [] and pinned to false. Returns the stored note including its id.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": noteFieldProperties,
			},
		},
		{
			Name:        ToolNoteUpdate,
			Description: "Change fields of a note. Only the fields you pass are changed; tags replaces the whole tag list. Returns the updated note.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": withID(noteFieldProperties),
				"required":   []string{"id"},
			},
		},
		{
			Name:        ToolNoteDelete,
			Description: "Delete a note. The note disappears from note_list and note_get but the record is kept in the database.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": withID(nil),
				"required":   []string{"id"},
			},
		},
	}
}
