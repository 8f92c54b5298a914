package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bazaar-it/bazaar-sub000/internal/apiclient"
	"github.com/bazaar-it/bazaar-sub000/internal/reconcile"
	"github.com/bazaar-it/bazaar-sub000/pkg/response"
)

func newRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <operation-id>",
		Short: "Undo a recorded operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(projectID string, cache *reconcile.ClientSceneCache) error {
				resp, err := ctx.client().Restore(cmd.Context(), projectID, args[0])
				var apiErr *apiclient.APIError
				if errors.As(err, &apiErr) && apiErr.Code == response.CodeRestoreUnsupported {
					return fmt.Errorf("operation %s cannot be restored: %s", args[0], apiErr.Message)
				}
				if err != nil {
					return err
				}
				cache.Replace(resp.Scenes)
				fmt.Fprintf(cmd.OutOrStdout(), "restored %d scene(s)\n", resp.Restored)
				return nil
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Stop the running turn after its current operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := ctx.projectID()
			if err != nil {
				return err
			}
			resp, err := ctx.client().Cancel(cmd.Context(), projectID)
			var apiErr *apiclient.APIError
			if errors.As(err, &apiErr) && apiErr.Code == response.CodeNotFound {
				fmt.Fprintln(cmd.OutOrStdout(), "no generation is running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancel requested for session %s\n", resp.SessionID)
			return nil
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the project's conversation and operation ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := ctx.projectID()
			if err != nil {
				return err
			}
			resp, err := ctx.client().Messages(cmd.Context(), projectID, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(resp.Messages))
			for i, m := range resp.Messages {
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					string(m.Role),
					string(m.Status),
					m.OperationRef,
					oneLine(m.Content, 60),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"#", "Role", "Status", "Operation", "Content"},
				rows,
				[]columnAlignment{alignRight},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of messages")
	return cmd
}

func oneLine(s string, width int) string {
	out := make([]rune, 0, width)
	for _, r := range s {
		if len(out) == width {
			return string(out) + "..."
		}
		if r == '\n' {
			r = ' '
		}
		out = append(out, r)
	}
	return string(out)
}
