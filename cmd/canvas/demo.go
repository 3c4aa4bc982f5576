package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"canvas/api/internal/blob"
	"canvas/api/internal/localdemo"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Inspect or reset the local-only demo state",
}

var demoListCmd = &cobra.Command{
	Use:   "list [query]",
	Short: "List demo canvases with their derived status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		demo, err := openDemo(cmd)
		if err != nil {
			return err
		}
		query := ""
		if len(args) == 1 {
			query = args[0]
		}
		for _, c := range demo.Search(query) {
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-28s %s\n", c.ID, c.Name, localdemo.StatusLabel(localdemo.DeriveStatus(c)))
		}
		return nil
	},
}

var demoRecommendCmd = &cobra.Command{
	Use:   "recommendations [canvas-id]",
	Short: "Print pending recommendations ranked by score",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		demo, err := openDemo(cmd)
		if err != nil {
			return err
		}
		canvasID := ""
		if len(args) == 1 {
			canvasID = args[0]
		}
		return printJSON(cmd.OutOrStdout(), demo.Recommendations(canvasID))
	},
}

var demoResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the seeded canvases and clear feedback",
	RunE: func(cmd *cobra.Command, args []string) error {
		demo, err := openDemo(cmd)
		if err != nil {
			return err
		}
		if err := demo.Reset(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reset %d canvases\n", len(demo.Canvases()))
		return nil
	},
}

func openDemo(cmd *cobra.Command) (*localdemo.Demo, error) {
	blobs, err := blob.Open(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open local state (%s): %w", cfg.BlobBackend, err)
	}
	return localdemo.Open(cmd.Context(), blobs)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	demoCmd.AddCommand(demoListCmd, demoRecommendCmd, demoResetCmd)
	rootCmd.AddCommand(demoCmd)
}
