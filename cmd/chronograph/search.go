package chronograph

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/chronograph/pkg/search"
	"github.com/soundprediction/chronograph/pkg/server/dto"
	"github.com/soundprediction/chronograph/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge graph",
	Long: `Search runs keyword, vector and graph search over a group and fuses the
results. By default only the current view of the graph is searched; --as-of
searches the facts valid at an instant and --start/--end every fact valid at
some point of a range.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var (
	searchGroup  string
	searchK      int
	searchAsOf   string
	searchStart  string
	searchEnd    string
	searchKinds  []string
	searchLabels []string
	searchSeeds  []string
	searchHops   int
	searchRerank string
	searchFormat string
)

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringVar(&searchGroup, "group", "", "Group ID to search")
	searchCmd.Flags().IntVar(&searchK, "k", 0, "Number of results (default from config)")
	searchCmd.Flags().StringVar(&searchAsOf, "as-of", "", "Event time instant, RFC3339")
	searchCmd.Flags().StringVar(&searchStart, "start", "", "Start of an event time range, RFC3339")
	searchCmd.Flags().StringVar(&searchEnd, "end", "", "End of an event time range, RFC3339")
	searchCmd.Flags().StringSliceVar(&searchKinds, "kinds", nil, "Result kinds (node, edge)")
	searchCmd.Flags().StringSliceVar(&searchLabels, "labels", nil, "Entity labels to keep")
	searchCmd.Flags().StringSliceVar(&searchSeeds, "seed", nil, "Seed entity IDs for graph search")
	searchCmd.Flags().IntVar(&searchHops, "max-hops", 0, "Graph search depth (default from config)")
	searchCmd.Flags().StringVar(&searchRerank, "rerank", "", "Reranker applied after fusion (mmr, llm, cross_encoder)")
	searchCmd.Flags().StringVar(&searchFormat, "format", dto.FormatJSON, "Output format (json, context)")
	searchCmd.MarkFlagRequired("group")
}

func runSearch(cmd *cobra.Command, args []string) error {
	q := &dto.SearchQuery{
		GroupID:      searchGroup,
		Query:        strings.Join(args, " "),
		K:            searchK,
		EntityLabels: searchLabels,
		SeedIDs:      searchSeeds,
		MaxHops:      searchHops,
		Rerank:       searchRerank,
		Format:       searchFormat,
	}
	for _, k := range searchKinds {
		q.Kinds = append(q.Kinds, types.ItemKind(k))
	}

	var err error
	if q.AsOf, err = parseTimeFlag("as-of", searchAsOf); err != nil {
		return err
	}
	if q.Start, err = parseTimeFlag("start", searchStart); err != nil {
		return err
	}
	if q.End, err = parseTimeFlag("end", searchEnd); err != nil {
		return err
	}

	req, err := q.ToRequest()
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	res, err := a.client.Search(ctx, req)
	if err != nil {
		return err
	}

	if q.Format == dto.FormatContext {
		text, err := search.SearchResultsToContextString(res, false)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
		return err
	}
	return printJSON(cmd.OutOrStdout(), dto.NewSearchResponse(res))
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return &t, nil
}
