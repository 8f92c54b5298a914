package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bazaar-it/bazaar-sub000/internal/apiclient"
	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/bazaar-it/bazaar-sub000/internal/reconcile"
	"github.com/bazaar-it/bazaar-sub000/pkg/response"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <message>",
		Short: "Send a message and follow the generation turn",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			out := cmd.OutOrStdout()
			runCtx := cmd.Context()

			return ctx.withCache(func(projectID string, cache *reconcile.ClientSceneCache) error {
				client := ctx.client()
				resp, err := client.Generate(runCtx, projectID, model.GenerateRequest{
					Message:         text,
					SelectedSceneID: cache.Selected(),
				})
				var apiErr *apiclient.APIError
				if errors.As(err, &apiErr) && apiErr.Code == response.CodeSessionLocked {
					return fmt.Errorf("a generation is already running for project %s", projectID)
				}
				if err != nil {
					return err
				}

				rec := reconcile.New(cache, client, func(scenes []model.Scene) {
					fmt.Fprintf(out, "scenes updated: %d scenes, %d frames\n", len(scenes), model.TotalDuration(scenes))
				}, nil, ctx.logger())
				rec.Begin(resp.SessionID, resp.MessageID)

				followErr := client.Follow(runCtx, resp.StreamURL, func(ev model.StreamEvent) error {
					printEvent(out, ev)
					return rec.Apply(runCtx, ev)
				})

				msg := rec.Message()
				if msg.Content != "" {
					fmt.Fprintln(out, msg.Content)
				}
				if followErr != nil {
					return followErr
				}
				if msg.Status == model.MessageError {
					return errors.New("generation failed")
				}
				return nil
			})
		},
	}
}

func printEvent(w io.Writer, ev model.StreamEvent) {
	switch ev.Type {
	case model.EventStatus:
		fmt.Fprintf(w, "[%s]\n", ev.Status)
	case model.EventDelta:
		fmt.Fprintln(w, ev.Content)
	case model.EventToolStart:
		fmt.Fprintf(w, "-> %s\n", ev.Name)
	case model.EventToolResult:
		mark := "ok"
		if !ev.Succeeded() {
			mark = "failed"
		}
		if ev.SceneID != "" {
			fmt.Fprintf(w, "   %s %s (scene %s)\n", ev.Name, mark, ev.SceneID)
		} else {
			fmt.Fprintf(w, "   %s %s\n", ev.Name, mark)
		}
	}
}
