package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"wastedraft/internal/orchestrator"
)

func newApproveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <draft-id>",
		Short: "Approve a pending record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := orchestrator.Approve(cmd.Context(), client, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: approved\n", args[0])
			return nil
		},
	}
}

func newRejectCommand(ctx *commandContext) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <draft-id>",
		Short: "Send a pending record back to its author",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := orchestrator.Reject(cmd.Context(), client, args[0], reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: rejected\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the record is rejected")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
