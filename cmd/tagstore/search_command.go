package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/nainya/tagstore/pkg/resolve"
	"github.com/nainya/tagstore/pkg/search"
)

type searchFlags struct {
	terms       []string
	nodeType    string
	all         bool
	substring   bool
	selection   bool
	hierarchy   bool
	forceChoice int
	jsonOut     bool
	facets      bool
	filter      search.Filter
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   "search [term...]",
		Short: "Find attributes whose names match search terms",
		Long: "Search the scene for attributes whose names match the given terms " +
			"(the configured or common terms by default) and annotate them from the tag catalogs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			terms := append(append([]string{}, f.terms...), args...)
			if len(terms) == 0 {
				terms = cfg.Search.Terms
			}
			opts := search.NewBuilder(terms...).NodeType(f.nodeType).Build()
			opts.UserDefinedOnly = cfg.Search.UserDefinedOnly
			opts.Exact = cfg.Search.Exact
			if cmd.Flags().Changed("all") {
				opts.UserDefinedOnly = !f.all
			}
			if cmd.Flags().Changed("substring") {
				opts.Exact = !f.substring
			}
			opts.SelectionOnly = f.selection
			opts.IncludeHierarchy = f.hierarchy
			if cmd.Flags().Changed("force-choice") {
				opts.ForceChoice = &f.forceChoice
			}

			h, err := ctx.openScene(cmd.Context())
			if err != nil {
				return err
			}
			defer h.Close()
			catalogs, err := ctx.catalogs()
			if err != nil {
				return err
			}
			engine, err := ctx.engine(h, catalogs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var bar *pterm.ProgressbarPrinter
			if !f.jsonOut && isTerminal(os.Stderr) {
				bar, _ = pterm.DefaultProgressbar.
					WithTotal(100).
					WithTitle("Searching").
					WithWriter(os.Stderr).
					WithRemoveWhenDone(true).
					Start()
			}
			if bar != nil {
				opts.Progress = func(percent float64) {
					if step := int(percent) - bar.Current; step > 0 {
						bar.Add(step)
					}
				}
			}

			result, err := engine.Search(cmd.Context(), opts)
			if err != nil {
				if bar != nil {
					bar.Stop()
				}
				return err
			}
			result = f.filter.Apply(result)

			if f.jsonOut {
				return writeJSON(out, result)
			}
			rendered := renderSearchResult(result, f.facets, func(done, total int) {
				if bar != nil && total > 0 {
					target := int(search.ProgressSpan) + done*int(100-search.ProgressSpan)/total
					if step := target - bar.Current; step > 0 {
						bar.Add(step)
					}
				}
			})
			if bar != nil {
				if step := 100 - bar.Current; step > 0 {
					bar.Add(step)
				}
				bar.Stop()
			}
			_, err = io.WriteString(out, rendered)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&f.terms, "term", "t", nil, "Search term (repeatable)")
	flags.StringVar(&f.nodeType, "node-type", "", "Only objects of this node type")
	flags.BoolVar(&f.all, "all", false, "Include built-in attributes")
	flags.BoolVar(&f.substring, "substring", false, "Case-insensitive substring matching instead of exact names")
	flags.BoolVar(&f.selection, "selection", false, "Only selected objects")
	flags.BoolVar(&f.hierarchy, "hierarchy", false, "With --selection, include descendants")
	flags.IntVar(&f.forceChoice, "force-choice", 0, "Catalog index to use when a tag is ambiguous")
	flags.BoolVar(&f.jsonOut, "json", false, "Print the result as JSON")
	flags.BoolVar(&f.facets, "facets", false, "Print the distinct values of each column")
	flags.StringVar(&f.filter.ObjectName, "name", "", "Keep objects whose name contains this text or matches this glob")
	flags.StringVar(&f.filter.ObjectType, "type", "", "Keep objects of this node type")
	flags.StringVar(&f.filter.AttrName, "attr", "", "Keep objects with an attribute name containing this text")
	flags.StringVar(&f.filter.AttrType, "attr-type", "", "Keep objects with an attribute type containing this text")
	flags.StringVar(&f.filter.Association, "assoc", "", "Keep objects with an association containing this text")
	return cmd
}

// renderSearchResult lays out the result table, reporting each object row.
func renderSearchResult(r *search.Result, facets bool, progress func(done, total int)) string {
	headers := []string{"Object", "Node Type", "Attribute", "Value", "Type", "Association", "Description"}
	var rows [][]string
	for i, obj := range r.Objects {
		for _, a := range obj.Attributes {
			desc := a.Description
			if desc == resolve.NotAvailable {
				desc = ""
			}
			rows = append(rows, []string{obj.Name, obj.NodeType, a.Name, a.Value, a.Type, a.Association, desc})
		}
		progress(i+1, len(r.Objects))
	}

	var b strings.Builder
	if len(rows) == 0 {
		b.WriteString("No matching attributes.\n")
		return b.String()
	}
	b.WriteString(renderTable(headers, rows, nil))
	fmt.Fprintf(&b, "\n%d objects, %d attributes\n", r.Len(), r.AttributeCount())

	if facets {
		fc := search.FacetsOf(r)
		b.WriteString(renderTable([]string{"Facet", "Values"}, [][]string{
			{"Node types", strings.Join(fc.ObjectTypes, ", ")},
			{"Attributes", strings.Join(fc.AttrNames, ", ")},
			{"Types", strings.Join(fc.AttrTypes, ", ")},
			{"Associations", strings.Join(fc.Associations, ", ")},
		}, nil))
		b.WriteString("\n")
	}
	return b.String()
}
