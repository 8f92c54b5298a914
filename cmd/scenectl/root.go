package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "scenectl",
		Short:         "Drive scene generation turns from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.server, "server", envOr("SCENECTL_SERVER", "http://localhost:8000"), "API base URL")
	flags.StringVar(&ctx.token, "token", envOr("SCENECTL_TOKEN", ""), "Bearer token")
	flags.StringVarP(&ctx.project, "project", "p", envOr("SCENECTL_PROJECT", ""), "Project ID")
	flags.StringVar(&ctx.cacheDir, "cache-dir", defaultCacheDir(), "Directory of the local scene cache")
	flags.BoolVarP(&ctx.verbose, "verbose", "v", false, "Log reconciliation details")

	rootCmd.AddCommand(newGenerateCommand(ctx))
	rootCmd.AddCommand(newScenesCommand(ctx))
	rootCmd.AddCommand(newSelectCommand(ctx))
	rootCmd.AddCommand(newRestoreCommand(ctx))
	rootCmd.AddCommand(newCancelCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))

	return rootCmd
}
