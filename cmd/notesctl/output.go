package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kuitang/note-organizer/internal/notes"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// noteView is the printed form of a note.
type noteView struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Content   string    `json:"content" yaml:"content"`
	Tags      []string  `json:"tags" yaml:"tags"`
	Pinned    bool      `json:"pinned" yaml:"pinned"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

func toView(n notes.Note) noteView {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	return noteView{
		ID:        n.ID,
		Title:     n.Title,
		Content:   n.Content,
		Tags:      tags,
		Pinned:    n.Pinned,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func writeNotes(w io.Writer, format string, list []notes.Note) error {
	views := make([]noteView, len(list))
	for i, n := range list {
		views[i] = toView(n)
	}
	switch format {
	case formatJSON:
		return writeJSON(w, views)
	case formatYAML:
		return writeYAML(w, views)
	case formatTable, "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tPINNED\tTITLE\tTAGS\tUPDATED")
		for _, v := range views {
			pin := ""
			if v.Pinned {
				pin = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				v.ID, pin, notes.DisplayTitle(v.Title), strings.Join(v.Tags, ","), v.UpdatedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeNote(w io.Writer, format string, n notes.Note) error {
	v := toView(n)
	switch format {
	case formatJSON:
		return writeJSON(w, v)
	case formatYAML:
		return writeYAML(w, v)
	case formatTable, "":
		pinned := ""
		if v.Pinned {
			pinned = " (pinned)"
		}
		fmt.Fprintf(w, "%s%s\n", notes.DisplayTitle(v.Title), pinned)
		fmt.Fprintf(w, "id: %s  tags: %s  updated: %s\n", v.ID, strings.Join(v.Tags, ","), v.UpdatedAt.Local().Format(time.DateTime))
		if v.Content != "" {
			fmt.Fprintf(w, "\n%s\n", v.Content)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
