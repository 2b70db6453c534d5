package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/refstore/internal/common"
	"github.com/dmitrijs2005/refstore/internal/server/items"
	"github.com/dmitrijs2005/refstore/internal/server/schema"
	"github.com/spf13/cobra"
)

type itemView struct {
	ID          int64             `json:"id"`
	Key         string            `json:"key"`
	LibraryID   int64             `json:"libraryID"`
	ItemType    string            `json:"itemType"`
	Title       string            `json:"title"`
	Creators    string            `json:"creatorSummary,omitempty"`
	Fields      map[string]string `json:"fields"`
	Deleted     bool              `json:"deleted"`
	ParentItem  string            `json:"parentItem,omitempty"`
	NumChildren int               `json:"numChildren,omitempty"`
	Note        string            `json:"note,omitempty"`
	Related     []int64           `json:"relatedItems,omitempty"`
	Tags        []tagView         `json:"tags,omitempty"`
	ETag        string            `json:"etag"`
}

type tagView struct {
	Tag  string `json:"tag"`
	Type int    `json:"type,omitempty"`
}

func (r *runner) itemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Inspect and edit items",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <library> <key>",
			Short: "Print an item as JSON",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				it, err := r.lookup(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return r.print(cmd.Context(), it)
			},
		},
		&cobra.Command{
			Use:   "create <library> <itemType> [field=value...]",
			Short: "Create an item",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				libraryID, err := parseLibrary(args[0])
				if err != nil {
					return err
				}
				typeID, ok := schema.Default().ItemTypeID(args[1])
				if !ok {
					return fmt.Errorf("item type %q: %w", args[1], common.ErrInvalidInput)
				}
				fields, err := parseAssignments(args[2:])
				if err != nil {
					return err
				}
				ctx, userID, err := r.authorize(cmd.Context())
				if err != nil {
					return err
				}
				s, err := r.store()
				if err != nil {
					return err
				}
				it := s.New()
				if err := it.SetLibraryID(libraryID); err != nil {
					return err
				}
				if _, err := it.SetItemTypeID(ctx, typeID); err != nil {
					return err
				}
				if err := applyFields(ctx, it, fields); err != nil {
					return err
				}
				return r.save(ctx, it, userID)
			},
		},
		&cobra.Command{
			Use:   "set <library> <key> field=value...",
			Short: "Change item fields; an empty value clears the field",
			Args:  cobra.MinimumNArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				fields, err := parseAssignments(args[2:])
				if err != nil {
					return err
				}
				ctx, userID, err := r.authorize(cmd.Context())
				if err != nil {
					return err
				}
				it, err := r.lookup(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if err := applyFields(ctx, it, fields); err != nil {
					return err
				}
				return r.save(ctx, it, userID)
			},
		},
		r.trashCmd("trash", "Move an item to the trash", true),
		r.trashCmd("restore", "Restore an item from the trash", false),
		r.tagsCmd(),
	)
	return cmd
}

func (r *runner) tagsCmd() *cobra.Command {
	var auto bool
	cmd := &cobra.Command{
		Use:   "tags <library> <key> [tag...]",
		Short: "Replace the tags of an item; no tags clears them",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tags := make([]items.Tag, 0, len(args)-2)
			for _, name := range args[2:] {
				t := items.Tag{Name: name}
				if auto {
					t.Type = items.TagAutomatic
				}
				tags = append(tags, t)
			}
			ctx, _, err := r.authorize(cmd.Context())
			if err != nil {
				return err
			}
			it, err := r.lookup(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			changed, err := it.SetTags(ctx, tags)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintln(r.out, "no changes")
				return nil
			}
			return r.print(ctx, it)
		},
	}
	cmd.Flags().BoolVar(&auto, "auto", false, "mark the tags as automatic")
	return cmd
}

func (r *runner) trashCmd(use, short string, deleted bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <library> <key>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, userID, err := r.authorize(cmd.Context())
			if err != nil {
				return err
			}
			it, err := r.lookup(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if _, err := it.SetDeleted(ctx, deleted); err != nil {
				return err
			}
			return r.save(ctx, it, userID)
		},
	}
}

func (r *runner) noteCmd() *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "note <library> <html>",
		Short: "Create a note, optionally under a parent item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			libraryID, err := parseLibrary(args[0])
			if err != nil {
				return err
			}
			ctx, userID, err := r.authorize(cmd.Context())
			if err != nil {
				return err
			}
			s, err := r.store()
			if err != nil {
				return err
			}
			it := s.New()
			if err := it.SetLibraryID(libraryID); err != nil {
				return err
			}
			if _, err := it.SetItemTypeID(ctx, schema.TypeNote); err != nil {
				return err
			}
			if _, err := it.SetNote(ctx, args[1]); err != nil {
				return err
			}
			if parent != "" {
				if _, err := it.SetSourceKey(ctx, parent); err != nil {
					return err
				}
			}
			return r.save(ctx, it, userID)
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent item key")
	return cmd
}

func (r *runner) lookup(ctx context.Context, library, key string) (*items.Item, error) {
	libraryID, err := parseLibrary(library)
	if err != nil {
		return nil, err
	}
	s, err := r.store()
	if err != nil {
		return nil, err
	}
	return s.GetByKey(ctx, libraryID, key)
}

func (r *runner) save(ctx context.Context, it *items.Item, userID int64) error {
	changed, err := it.Save(ctx, userID)
	if err != nil {
		return err
	}
	if !changed {
		fmt.Fprintln(r.out, "no changes")
		return nil
	}
	return r.print(ctx, it)
}

func (r *runner) print(ctx context.Context, it *items.Item) error {
	v, err := view(ctx, it)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, string(out))
	return nil
}

func view(ctx context.Context, it *items.Item) (*itemView, error) {
	v := &itemView{LibraryID: it.LibraryID(), Fields: map[string]string{}}
	var err error
	if v.ID, err = it.ID(ctx); err != nil {
		return nil, err
	}
	if v.Key, err = it.Key(ctx); err != nil {
		return nil, err
	}
	typeID, err := it.ItemTypeID(ctx)
	if err != nil {
		return nil, err
	}
	v.ItemType = schema.Default().ItemTypeName(typeID)
	if v.Title, err = it.DisplayTitle(ctx, false); err != nil {
		return nil, err
	}
	if v.Creators, err = it.CreatorSummary(ctx); err != nil {
		return nil, err
	}
	names, err := it.UsedFieldNames(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if v.Fields[name], err = it.GetField(ctx, name); err != nil {
			return nil, err
		}
	}
	if v.Deleted, err = it.Deleted(ctx); err != nil {
		return nil, err
	}
	regular, err := it.IsRegularItem(ctx)
	if err != nil {
		return nil, err
	}
	if regular {
		if v.NumChildren, err = it.NumChildren(ctx, false); err != nil {
			return nil, err
		}
	} else {
		if v.ParentItem, err = it.SourceKey(ctx); err != nil {
			return nil, err
		}
		if v.Note, err = it.NoteText(ctx); err != nil {
			return nil, err
		}
	}
	if v.Related, err = it.RelatedItems(ctx); err != nil {
		return nil, err
	}
	tags, err := it.Tags(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		v.Tags = append(v.Tags, tagView{Tag: t.Name, Type: t.Type})
	}
	if v.ETag, err = it.ETag(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

func applyFields(ctx context.Context, it *items.Item, fields [][2]string) error {
	for _, f := range fields {
		if _, err := it.SetField(ctx, f[0], f[1]); err != nil {
			return err
		}
	}
	return nil
}

func parseLibrary(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("library %q: %w", s, common.ErrInvalidInput)
	}
	return id, nil
}

// parseAssignments splits field=value arguments, keeping their order.
func parseAssignments(args []string) ([][2]string, error) {
	out := make([][2]string, 0, len(args))
	for _, a := range args {
		name, value, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected field=value, got %q: %w", a, common.ErrInvalidInput)
		}
		out = append(out, [2]string{name, value})
	}
	return out, nil
}
