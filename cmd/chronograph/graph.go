package chronograph

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soundprediction/chronograph/pkg/export"
)

var (
	graphGroup    string
	exportDir     string
	exportHistory bool
	listOnly      bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a group's graph to Parquet files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext(cmd)
		defer stop()

		summary, err := a.client.ExportPartition(ctx, exportDir, graphGroup, export.Options{History: exportHistory})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), summary)
	},
}

var communitiesCmd = &cobra.Command{
	Use:   "communities",
	Short: "Rebuild or list the communities of a group",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext(cmd)
		defer stop()

		if listOnly {
			communities, err := a.client.GetCommunities(ctx, graphGroup)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), communities)
		}
		res, err := a.client.BuildCommunities(ctx, graphGroup)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print graph statistics and integrity problems for a group",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext(cmd)
		defer stop()

		stats, err := a.client.GetStats(ctx, graphGroup)
		if err != nil {
			return err
		}
		issues, err := a.client.ValidateGraph(ctx, graphGroup)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), map[string]any{
			"statistics": stats,
			"issues":     issues,
		}); err != nil {
			return err
		}
		if len(issues) > 0 {
			return fmt.Errorf("%d integrity problems found", len(issues))
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{exportCmd, communitiesCmd, statsCmd} {
		c.Flags().StringVar(&graphGroup, "group", "", "Group ID")
		c.MarkFlagRequired("group")
		rootCmd.AddCommand(c)
	}

	exportCmd.Flags().StringVar(&exportDir, "dir", "./export", "Output directory")
	exportCmd.Flags().BoolVar(&exportHistory, "history", false, "Include invalidated and expired edges")
	communitiesCmd.Flags().BoolVar(&listOnly, "list", false, "List stored communities without rebuilding")
}
