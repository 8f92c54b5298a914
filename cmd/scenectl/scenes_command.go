package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/bazaar-it/bazaar-sub000/internal/reconcile"
)

func newScenesCommand(ctx *commandContext) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "scenes",
		Short: "List the project's scenes from the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(projectID string, cache *reconcile.ClientSceneCache) error {
				if refresh || len(cache.Scenes()) == 0 {
					scenes, err := ctx.client().FetchScenes(cmd.Context(), projectID)
					if err != nil {
						return err
					}
					cache.Replace(scenes)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderScenes(cache))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&refresh, "refresh", "r", false, "Fetch the authoritative scene list first")
	return cmd
}

func renderScenes(cache *reconcile.ClientSceneCache) string {
	scenes := cache.Scenes()
	if len(scenes) == 0 {
		return "no scenes"
	}
	rows := make([][]string, 0, len(scenes)+1)
	for _, s := range scenes {
		selected := ""
		if s.ID == cache.Selected() {
			selected = "*"
		}
		rows = append(rows, []string{
			selected,
			strconv.Itoa(s.OrderIndex + 1),
			s.ID,
			s.Name,
			strconv.Itoa(s.Start),
			strconv.Itoa(s.EffectiveDuration()),
			yesNo(cache.Provisional(s.ID)),
		})
	}
	rows = append(rows, []string{"", "", "", "total", "", strconv.Itoa(model.TotalDuration(scenes)), ""})
	return renderTable(
		[]string{"", "#", "ID", "Name", "Start", "Frames", "Provisional"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func newSelectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "select [scene-id | position]",
		Short: "Select the scene the next message refers to; no argument clears it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(func(_ string, cache *reconcile.ClientSceneCache) error {
				if len(args) == 0 {
					cache.Select("")
					fmt.Fprintln(cmd.OutOrStdout(), "selection cleared")
					return nil
				}
				id := args[0]
				if n, err := strconv.Atoi(id); err == nil {
					scenes := cache.Scenes()
					if n < 1 || n > len(scenes) {
						return fmt.Errorf("position %d out of range (1-%d)", n, len(scenes))
					}
					id = scenes[n-1].ID
				}
				scene, ok := cache.Scene(id)
				if !ok {
					return fmt.Errorf("scene %s is not in the cache; run `scenectl scenes --refresh`", id)
				}
				cache.Select(scene.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "selected %s (%s)\n", scene.Name, scene.ID)
				return nil
			})
		},
	}
}
