package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "wastectl",
		Short:         "Create, edit, submit and review waste collection records",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&ctx.apiURL, "api-url", envOr("WASTEDRAFT_API_URL", "http://localhost:8080"), "Base URL of the draft API")
	flags.StringVar(&ctx.apiKey, "api-key", os.Getenv("WASTEDRAFT_API_KEY"), "API key (Authorization: ApiKey)")
	flags.StringVar(&ctx.token, "token", os.Getenv("WASTEDRAFT_TOKEN"), "Bearer token, used instead of --api-key")
	flags.BoolVarP(&ctx.verbose, "verbose", "v", false, "Log API calls to stderr")

	rootCmd.AddCommand(newSaveCommand(ctx))
	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newApproveCommand(ctx))
	rootCmd.AddCommand(newRejectCommand(ctx))

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
