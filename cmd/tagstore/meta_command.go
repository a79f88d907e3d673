package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/nainya/tagstore/pkg/resolve"
	"github.com/nainya/tagstore/pkg/scene"
	"github.com/nainya/tagstore/pkg/search"
	"github.com/nainya/tagstore/pkg/tagmeta"
)

func newMetaCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Read and maintain tag provenance records",
	}
	cmd.AddCommand(
		newMetaShowCommand(ctx),
		newMetaObjectsCommand(ctx, "create", "Add an empty provenance record", (*tagmeta.Store).Create),
		newMetaApplyCommand(ctx),
		newMetaApplyAllCommand(ctx),
		newMetaRemoveCommand(ctx),
		newMetaObjectsCommand(ctx, "reset", "Replace records with empty ones", (*tagmeta.Store).Reset),
		newMetaObjectsCommand(ctx, "delete", "Remove the provenance attribute", (*tagmeta.Store).Destroy),
		newMetaFindCommand(ctx),
	)
	return cmd
}

// withStore opens the scene, runs fn and, for writes, persists the scene.
func (c *commandContext) withStore(cmd *cobra.Command, write bool, fn func(context.Context, *tagmeta.Store, *sceneHandle) error) error {
	h, err := c.openScene(cmd.Context())
	if err != nil {
		return err
	}
	defer h.Close()
	catalogs, err := c.catalogs()
	if err != nil {
		return err
	}
	store, err := c.store(h, catalogs)
	if err != nil {
		return err
	}
	if err := fn(cmd.Context(), store, h); err != nil {
		return err
	}
	if write {
		return h.save()
	}
	return nil
}

func forceOpts(cmd *cobra.Command, choice int) []resolve.ResolveOption {
	if cmd.Flags().Changed("force-choice") {
		return []resolve.ResolveOption{resolve.WithForceChoice(choice)}
	}
	return nil
}

func newMetaShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <object...>",
		Short: "Print provenance records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, false, func(c context.Context, store *tagmeta.Store, _ *sceneHandle) error {
				records := make(map[string]tagmeta.Record, len(args))
				var rows [][]string
				for _, obj := range args {
					rec, err := store.Read(c, obj)
					if err != nil {
						return err
					}
					records[obj] = rec
					if rec == nil {
						rows = append(rows, []string{obj, "(no record)", "", "", "", ""})
						continue
					}
					if len(rec) == 0 {
						rows = append(rows, []string{obj, "(empty)", "", "", "", ""})
						continue
					}
					for _, tag := range rec.Tags() {
						p := rec[tag]
						rows = append(rows, []string{obj, tag, p.User, p.Timestamp, p.Association, p.Description})
					}
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), records)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Object", "Tag", "User", "Timestamp", "Association", "Description"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print records as JSON")
	return cmd
}

func newMetaObjectsCommand(ctx *commandContext, use, short string, op func(*tagmeta.Store, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <object...>",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, true, func(c context.Context, store *tagmeta.Store, _ *sceneHandle) error {
				for _, obj := range args {
					if err := op(store, c, obj); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", use, obj)
				}
				return nil
			})
		},
	}
}

func newMetaApplyCommand(ctx *commandContext) *cobra.Command {
	var choice int
	cmd := &cobra.Command{
		Use:   "apply <object> <tag...>",
		Short: "Stamp provenance for tags on an object",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			obj, tagNames := args[0], args[1:]
			return ctx.withStore(cmd, true, func(c context.Context, store *tagmeta.Store, _ *sceneHandle) error {
				for _, tag := range tagNames {
					p, err := store.ApplyTag(c, obj, tag, nil, forceOpts(cmd, choice)...)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s.%s: %s (%s)\n", obj, tag, p.Association, p.Timestamp)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&choice, "force-choice", 0, "Catalog index to use when a tag is ambiguous")
	return cmd
}

func newMetaApplyAllCommand(ctx *commandContext) *cobra.Command {
	var choice int
	cmd := &cobra.Command{
		Use:   "apply-all <object...>",
		Short: "Stamp provenance for every catalogued tag present on each object",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, true, func(c context.Context, store *tagmeta.Store, _ *sceneHandle) error {
				for _, obj := range args {
					applied, err := store.ApplyAllKnownTags(c, obj, nil, forceOpts(cmd, choice)...)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d tags applied %v\n", obj, len(applied), applied)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&choice, "force-choice", 0, "Catalog index to use when a tag is ambiguous")
	return cmd
}

func newMetaRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <object> <tag...>",
		Short: "Drop tags from an object's record",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			obj, tagNames := args[0], args[1:]
			return ctx.withStore(cmd, true, func(c context.Context, store *tagmeta.Store, _ *sceneHandle) error {
				for _, tag := range tagNames {
					if err := store.RemoveTag(c, obj, tag); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

// parseWhen accepts RFC 3339, a provenance timestamp or a bare date.
func parseWhen(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(tagmeta.TimestampLayout, s, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, errors.WithHintf(errors.Newf("cannot parse time %q", s),
		"use 2006-01-02, RFC 3339 or %q", tagmeta.TimestampLayout)
}

func newMetaFindCommand(ctx *commandContext) *cobra.Command {
	var (
		q            tagmeta.Query
		since, until string
		scope        scene.ObjectQuery
		jsonOut      bool
	)
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Query provenance across the scene",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if q.Since, err = parseWhen(since); err != nil {
				return err
			}
			if q.Until, err = parseWhen(until); err != nil {
				return err
			}
			if err := (search.Options{SelectionOnly: scope.SelectionOnly, IncludeHierarchy: scope.IncludeHierarchy}).Validate(); err != nil {
				return err
			}
			return ctx.withStore(cmd, false, func(c context.Context, store *tagmeta.Store, _ *sceneHandle) error {
				ix, err := tagmeta.BuildIndex(c, store, scope)
				if err != nil {
					return err
				}
				rows := ix.Match(q)
				out := cmd.OutOrStdout()
				if jsonOut {
					return writeJSON(out, map[string]interface{}{"rows": rows, "skipped": ix.Skipped()})
				}
				table := make([][]string, 0, len(rows))
				for _, r := range rows {
					table = append(table, []string{r.Object, r.Tag, r.User, r.Timestamp, r.Association})
				}
				fmt.Fprintln(out, renderTable([]string{"Object", "Tag", "User", "Timestamp", "Association"}, table, nil))
				fmt.Fprintf(out, "%d rows across %d objects\n", len(rows), len(tagmeta.Objects(rows)))
				if skipped := ix.Skipped(); len(skipped) > 0 {
					fmt.Fprintf(out, "skipped corrupt records: %v\n", skipped)
				}
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&q.Tag, "tag", "", "Only this tag")
	flags.StringVar(&q.User, "by", "", "Only entries applied by this user")
	flags.StringVar(&q.Association, "assoc", "", "Only entries with this association")
	flags.StringVar(&since, "since", "", "Only entries applied at or after this time")
	flags.StringVar(&until, "until", "", "Only entries applied at or before this time")
	flags.IntVar(&q.Limit, "limit", 0, "Maximum rows (0 for all)")
	flags.StringVar(&scope.NodeType, "node-type", "", "Only objects of this node type")
	flags.BoolVar(&scope.SelectionOnly, "selection", false, "Only selected objects")
	flags.BoolVar(&scope.IncludeHierarchy, "hierarchy", false, "With --selection, include descendants")
	flags.BoolVar(&jsonOut, "json", false, "Print rows as JSON")
	return cmd
}
