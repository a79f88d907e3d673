package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/nainya/tagstore/pkg/scene"
	"github.com/nainya/tagstore/pkg/search"
)

func newSceneCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scene",
		Short: "Manage the scene file",
	}
	cmd.AddCommand(newSceneImportCommand(ctx), newSceneListCommand(ctx), newSceneSelectCommand(ctx))
	return cmd
}

func (h *sceneHandle) objects(ctx context.Context) ([]scene.Object, error) {
	if h.memory != nil {
		return h.memory.Objects(), nil
	}
	return h.sqlite.Objects(ctx)
}

func newSceneImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <document.yaml...>",
		Short: "Load YAML scene documents into the SQLite scene",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := ctx.openScene(cmd.Context())
			if err != nil {
				return err
			}
			defer h.Close()
			if h.sqlite == nil {
				return errors.WithHint(errors.Newf("scene %s is not a SQLite file", h.path),
					"pass --scene with a .db path to import into")
			}
			for _, path := range args {
				objs, err := scene.LoadDocument(path)
				if err != nil {
					return err
				}
				if err := h.sqlite.Import(cmd.Context(), objs...); err != nil {
					return errors.Wrapf(err, "import %s", path)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d objects from %s\n", len(objs), path)
			}
			return nil
		},
	}
}

func newSceneListCommand(ctx *commandContext) *cobra.Command {
	var (
		q       scene.ObjectQuery
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List scene objects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := (search.Options{SelectionOnly: q.SelectionOnly, IncludeHierarchy: q.IncludeHierarchy}).Validate(); err != nil {
				return err
			}
			h, err := ctx.openScene(cmd.Context())
			if err != nil {
				return err
			}
			defer h.Close()

			names, err := h.ListObjects(cmd.Context(), q)
			if err != nil {
				return err
			}
			all, err := h.objects(cmd.Context())
			if err != nil {
				return err
			}
			byName := make(map[string]scene.Object, len(all))
			for _, o := range all {
				byName[o.Name] = o
			}

			if jsonOut {
				out := make([]scene.Object, 0, len(names))
				for _, n := range names {
					out = append(out, byName[n])
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}
			rows := make([][]string, 0, len(names))
			for _, n := range names {
				o := byName[n]
				sel := ""
				if o.Selected {
					sel = "*"
				}
				rows = append(rows, []string{o.Name, o.Type, o.Parent, sel, strconv.Itoa(len(o.Attributes))})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Object", "Type", "Parent", "Selected", "Attributes"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight}))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&q.NodeType, "node-type", "", "Only objects of this node type")
	flags.BoolVar(&q.SelectionOnly, "selection", false, "Only selected objects")
	flags.BoolVar(&q.IncludeHierarchy, "hierarchy", false, "With --selection, include descendants")
	flags.BoolVar(&jsonOut, "json", false, "Print objects as JSON")
	return cmd
}

func newSceneSelectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "select [object...]",
		Short: "Replace the selection; no arguments clears it",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := ctx.openScene(cmd.Context())
			if err != nil {
				return err
			}
			defer h.Close()
			if err := h.selectObjects(cmd.Context(), args...); err != nil {
				return err
			}
			if err := h.save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "selected %d objects\n", len(args))
			return nil
		},
	}
}
