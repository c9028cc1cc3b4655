package chronograph

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/chronograph/pkg/server/dto"
	"github.com/soundprediction/chronograph/pkg/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest an episode from a file or stdin",
	Long: `Ingest reads an episode and runs it through extraction, entity and edge
resolution, and commit.

With --jsonl every input line is a JSON episode
({"group_id", "name", "content", "reference_time", ...}) and the lines are
ingested concurrently. Without a file argument the input is read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

var (
	ingestGroup      string
	ingestName       string
	ingestRefTime    string
	ingestSource     string
	ingestSourceDesc string
	ingestJSONL      bool
)

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestGroup, "group", "", "Group ID (partition) of the episode")
	ingestCmd.Flags().StringVar(&ingestName, "name", "", "Episode name")
	ingestCmd.Flags().StringVar(&ingestRefTime, "reference-time", "", "When the episode happened, RFC3339 (default now)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "text", "Episode source (text, message, json)")
	ingestCmd.Flags().StringVar(&ingestSourceDesc, "source-description", "", "Free-form description of the source")
	ingestCmd.Flags().BoolVar(&ingestJSONL, "jsonl", false, "Read one JSON episode per line")
}

func runIngest(cmd *cobra.Command, args []string) error {
	in := io.Reader(os.Stdin)
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	if ingestJSONL {
		reqs, err := readEpisodeLines(in)
		if err != nil {
			return err
		}
		outcomes := a.client.AddEpisodes(ctx, reqs)
		resp := &dto.AddEpisodesResponse{Results: make([]dto.BulkItem, len(outcomes))}
		for i, o := range outcomes {
			resp.Results[i].Result = o.Result
			if o.Err != nil {
				resp.Results[i].Error = o.Err.Error()
				resp.Results[i].Kind = types.KindOf(o.Err)
				resp.Failed++
			}
		}
		if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
		if resp.Failed > 0 {
			return fmt.Errorf("%d of %d episodes failed", resp.Failed, len(reqs))
		}
		return nil
	}

	if ingestGroup == "" {
		return fmt.Errorf("--group is required")
	}
	content, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	body := &dto.AddEpisodeRequest{
		GroupID:           ingestGroup,
		Name:              ingestName,
		Content:           string(content),
		Source:            ingestSource,
		SourceDescription: ingestSourceDesc,
	}
	if ingestRefTime != "" {
		t, err := time.Parse(time.RFC3339, ingestRefTime)
		if err != nil {
			return fmt.Errorf("invalid --reference-time: %w", err)
		}
		body.ReferenceTime = &t
	}
	if err := body.Validate(); err != nil {
		return err
	}

	res, err := a.client.AddEpisode(ctx, body.ToRequest(time.Now()))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func readEpisodeLines(r io.Reader) ([]*types.AddEpisodeRequest, error) {
	var (
		reqs []*types.AddEpisodeRequest
		now  = time.Now()
		line int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), dto.MaxContentLength+4096)
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var body dto.AddEpisodeRequest
		if err := json.Unmarshal(scanner.Bytes(), &body); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if body.GroupID == "" {
			body.GroupID = ingestGroup
		}
		if err := body.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		reqs = append(reqs, body.ToRequest(now))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if len(reqs) == 0 {
		return nil, dto.ErrEmptyEpisodes
	}
	if len(reqs) > dto.MaxEpisodesCount {
		return nil, dto.ErrTooManyEpisode
	}
	return reqs, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
