package main

import (
	"github.com/spf13/cobra"

	"github.com/nainya/tagstore/internal/config"
)

func newRootCommand() *cobra.Command {
	return newRootCommandWith(nil)
}

// newRootCommandWith builds the command tree. A non-nil ctx is used as is.
func newRootCommandWith(ctx *commandContext) *cobra.Command {
	var configFlag string
	if ctx == nil {
		ctx = newCommandContext(config.New(), &configFlag)
	} else {
		ctx.configFlag = &configFlag
	}

	rootCmd := &cobra.Command{
		Use:           "tagstore",
		Short:         "Search scene attributes and track tag provenance",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	flags.StringP("scene", "s", "", "Scene file (.db for SQLite, .yaml for a document)")
	flags.StringSliceP("department", "d", nil, "Restrict catalogs to these departments")
	flags.String("policy", "", "Ambiguity policy: fail, first or prompt")
	flags.String("user", "", "User recorded in tag provenance")
	flags.String("log-level", "", "Log level: debug, info, warn, error")

	for key, name := range map[string]string{
		"scene.path":           "scene",
		"catalogs.departments": "department",
		"resolve.policy":       "policy",
		"metadata.user":        "user",
		"logging.level":        "log-level",
	} {
		_ = ctx.v.BindPFlag(key, flags.Lookup(name))
	}

	rootCmd.AddCommand(newSearchCommand(ctx))
	rootCmd.AddCommand(newTagsCommand(ctx))
	rootCmd.AddCommand(newMetaCommand(ctx))
	rootCmd.AddCommand(newSceneCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))

	return rootCmd
}
