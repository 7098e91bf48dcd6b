package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kuitang/note-organizer/internal/notes"
	"github.com/kuitang/note-organizer/internal/notesync"
)

func newListCmd(opts *globalOptions) *cobra.Command {
	var (
		query  string
		tag    string
		pinned string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes, pinned first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := notes.ListFilter{Query: query, Tag: tag}
			if pinned != "" {
				b, err := strconv.ParseBool(pinned)
				if err != nil {
					return fmt.Errorf("--pinned must be true or false")
				}
				filter.Pinned = &b
			}
			list, err := opts.client().List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list notes: %w", err)
			}
			return writeNotes(cmd.OutOrStdout(), opts.output, list)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Substring to search in title, content and tags")
	cmd.Flags().StringVar(&tag, "tag", "", "Only notes carrying this tag")
	cmd.Flags().StringVar(&pinned, "pinned", "", "Only pinned (true) or unpinned (false) notes")
	return cmd
}

func newShowCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print one note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := opts.client().Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get note %s: %w", args[0], err)
			}
			return writeNote(cmd.OutOrStdout(), opts.output, *n)
		},
	}
}

type noteFields struct {
	title   string
	content string
	tags    []string
	pinned  bool
}

func (f *noteFields) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "Note title")
	cmd.Flags().StringVar(&f.content, "content", "", "Note body")
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "Tag (repeatable); replaces all tags on edit")
	cmd.Flags().BoolVar(&f.pinned, "pinned", false, "Pin the note")
}

// apply copies the flags the user actually set onto n.
func (f *noteFields) apply(cmd *cobra.Command, n notes.Note) (notes.Note, bool) {
	changed := false
	if cmd.Flags().Changed("title") {
		n.Title, changed = f.title, true
	}
	if cmd.Flags().Changed("content") {
		n.Content, changed = f.content, true
	}
	if cmd.Flags().Changed("tag") {
		n.Tags, changed = append([]string{}, f.tags...), true
	}
	if cmd.Flags().Changed("pinned") {
		n.Pinned, changed = f.pinned, true
	}
	return n, changed
}

func newNewCmd(opts *globalOptions) *cobra.Command {
	fields := &noteFields{}
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a note",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := opts.syncer()
			defer s.Close()

			created, err := s.CreateNote(ctx)
			if err != nil {
				return fmt.Errorf("create note: %w", err)
			}
			if edited, changed := fields.apply(cmd, created); changed {
				if err := s.UpdateDraft(edited); err != nil {
					return err
				}
				if err := s.SaveNow(ctx, created.ID); err != nil {
					return fmt.Errorf("save note %s: %w", created.ID, err)
				}
			}
			saved, _ := s.Note(created.ID)
			return writeNote(cmd.OutOrStdout(), opts.output, saved)
		},
	}
	fields.register(cmd)
	return cmd
}

func newEditCmd(opts *globalOptions) *cobra.Command {
	fields := &noteFields{}
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Change fields of a note; unset flags are left alone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			s, cur, err := loadNote(cmd, opts, id)
			if err != nil {
				return err
			}
			defer s.Close()

			edited, changed := fields.apply(cmd, cur)
			if !changed {
				return errors.New("nothing to change: pass --title, --content, --tag or --pinned")
			}
			if err := s.UpdateDraft(edited); err != nil {
				return err
			}
			if err := s.SaveNow(ctx, id); err != nil {
				return fmt.Errorf("save note %s: %w", id, err)
			}
			saved, _ := s.Note(id)
			return writeNote(cmd.OutOrStdout(), opts.output, saved)
		},
	}
	fields.register(cmd)
	return cmd
}

func newPinCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pin ID",
		Short: "Toggle the pinned flag of a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := loadNote(cmd, opts, args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.TogglePin(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("toggle pin: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.State().Toast)
			return nil
		},
	}
}

func newRmCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete a note",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := loadNote(cmd, opts, args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.DeleteNote(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete note: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.State().Toast)
			return nil
		},
	}
}

// loadNote fetches the collection into a new Syncer and returns the note.
func loadNote(cmd *cobra.Command, opts *globalOptions, id string) (*notesync.Syncer, notes.Note, error) {
	s := opts.syncer()
	if err := s.FetchNotes(cmd.Context()); err != nil {
		s.Close()
		return nil, notes.Note{}, fmt.Errorf("load notes: %w", err)
	}
	n, ok := s.Note(id)
	if !ok {
		s.Close()
		return nil, notes.Note{}, fmt.Errorf("note %s: %w", id, notesync.ErrUnknownNote)
	}
	return s, n, nil
}
