package main

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/nainya/tagstore/pkg/tags"
)

func newTagsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Inspect the tag catalogs",
	}
	cmd.AddCommand(newTagsListCommand(ctx))
	cmd.AddCommand(newTagsShowCommand(ctx))
	return cmd
}

func newTagsListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list [department...]",
		Short: "List catalogued tags by department",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalogs, err := ctx.catalogs(args...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if jsonOut {
				view := make(map[string][]tags.Definition, len(catalogs))
				for _, c := range catalogs {
					view[c.Department()] = c.Definitions()
				}
				return writeJSON(out, view)
			}

			var rows [][]string
			for _, c := range catalogs {
				if c.Len() == 0 {
					rows = append(rows, []string{c.Department(), "", "", ""})
					continue
				}
				for _, d := range c.Definitions() {
					rows = append(rows, []string{c.Department(), d.Name, d.Association, d.Description})
				}
			}
			fmt.Fprintln(out, renderTable([]string{"Department", "Tag", "Association", "Description"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print catalogs as JSON")
	return cmd
}

func newTagsShowCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <tag>",
		Short: "Show every catalog entry for a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag := args[0]
			catalogs, err := ctx.catalogs()
			if err != nil {
				return err
			}
			matches := catalogs.Logged(ctx.logs().SearchLogger()).CatalogsContaining(tag)
			if len(matches) == 0 {
				return errors.WithHintf(errors.Newf("tag %q is not catalogued", tag),
					"known tags: %s", strings.Join(catalogs.TagNames(), ", "))
			}

			var rows [][]string
			for i, c := range matches {
				e, _ := c.Lookup(tag)
				rows = append(rows, []string{fmt.Sprint(i), c.Department(), e.Association, e.Description})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Choice", "Department", "Association", "Description"}, rows, []columnAlignment{alignRight}))
			if len(matches) > 1 {
				fmt.Fprintf(out, "%s is defined in %d catalogs; pass --force-choice to pick one.\n", tag, len(matches))
			}
			return nil
		},
	}
	return cmd
}
