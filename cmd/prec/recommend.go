package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matsen/prec/internal/recommend"
	"github.com/matsen/prec/internal/topic"
)

var (
	recommendTopics string
	recommendVector string
	recommendLimit  int
	neighborsLimit  int
	reencodeTopics  string
)

func init() {
	recommendCmd.Flags().StringVar(&recommendTopics, "topics", "", "Comma-separated 1-indexed topics, e.g. 1,3,7")
	recommendCmd.Flags().StringVar(&recommendVector, "vector", "", "Comma-separated weights of width K, e.g. 1,0,1")
	recommendCmd.Flags().IntVarP(&recommendLimit, "limit", "l", DefaultLimit, "Maximum results to return")
	recommendCmd.MarkFlagsMutuallyExclusive("topics", "vector")
	recommendCmd.MarkFlagsOneRequired("topics", "vector")

	neighborsCmd.Flags().IntVarP(&neighborsLimit, "limit", "l", DefaultLimit, "Exact number of neighbours to return")

	reencodeCmd.Flags().StringVar(&reencodeTopics, "topics", "", "Comma-separated 1-indexed topics (empty clears all topics)")
	reencodeCmd.MarkFlagRequired("topics")

	rootCmd.AddCommand(recommendCmd, neighborsCmd, reencodeCmd, resizeCmd)
}

var recommendCmd = &cobra.Command{
	Use:   "recommend (--topics T | --vector V)",
	Short: "Rank papers by cosine similarity to a topic query",
	Long: `Rank papers by cosine similarity to a topic query.

Scores are rounded to two decimals. Equal scores are ordered by journal
rank (lower is better). Papers from unranked journals are never returned.

Examples:
  prec recommend --topics 1,3 -l 5
  prec recommend --vector 1,0,1,0`,
	Args: cobra.NoArgs,
	RunE: runRecommend,
}

var neighborsCmd = &cobra.Command{
	Use:   "neighbors <paper-id>",
	Short: "Find the papers with the greatest topic overlap",
	Long: `Find the papers whose topic sets overlap most with a paper's (Jaccard index).

Exactly --limit neighbours are returned. If fewer papers share a topic with
the anchor, the result is empty.`,
	Args: cobra.ExactArgs(1),
	RunE: runNeighbors,
}

var reencodeCmd = &cobra.Command{
	Use:   "reencode <paper-id> --topics T",
	Short: "Replace a paper's topics",
	Args:  cobra.ExactArgs(1),
	RunE:  runReencode,
}

var resizeCmd = &cobra.Command{
	Use:   "resize <K>",
	Short: "Change the topic count of every stored vector",
	Long: `Change the topic count K of every stored vector.

Growing pads every vector with zeros. Shrinking fails, with nothing changed,
if any paper has a topic above the new K.`,
	Args: cobra.ExactArgs(1),
	RunE: runResize,
}

func runRecommend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	var recs []recommend.Recommendation
	var err error
	if recommendTopics != "" {
		indices, perr := topic.ParseIndices(recommendTopics)
		exitOnError(perr, "parsing --topics")
		recs, err = a.engine.RecommendByTopics(ctx, indices, recommendLimit)
	} else {
		v, perr := topic.ParseVector(recommendVector)
		if perr != nil {
			exitWithError(ExitDataError, "parsing --vector: %v", perr)
		}
		recs, err = a.engine.RecommendByVector(ctx, v, recommendLimit)
	}
	exitOnError(err, "recommending")

	if !humanOutput {
		outputJSON(recs)
		return nil
	}
	if len(recs) == 0 {
		fmt.Println("No recommendations")
		return nil
	}
	for i, r := range recs {
		fmt.Printf("%d. [%.2f] %d\n", i+1, r.Score, r.PaperID)
		fmt.Printf("   %s\n", truncateString(r.Title, SummaryTitleLen))
		if r.Authors != "" {
			fmt.Printf("   %s\n", r.Authors)
		}
		fmt.Println()
	}
	return nil
}

func runNeighbors(cmd *cobra.Command, args []string) error {
	id := mustParseID(args[0])

	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	ns, err := a.engine.RecommendByNeighbors(ctx, id, neighborsLimit)
	exitOnError(err, "finding neighbours")

	if !humanOutput {
		outputJSON(ns)
		return nil
	}
	if len(ns) == 0 {
		fmt.Printf("Fewer than %d papers share a topic with %d\n", neighborsLimit, id)
		return nil
	}
	for i, n := range ns {
		fmt.Printf("%d. %d  jaccard %.3f (%d/%d)\n", i+1, n.PaperID, n.Jaccard, n.Intersection, n.Union)
	}
	return nil
}

func runReencode(cmd *cobra.Command, args []string) error {
	id := mustParseID(args[0])
	indices, err := topic.ParseIndices(reencodeTopics)
	exitOnError(err, "parsing --topics")

	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	exitOnError(a.engine.ReencodeEntity(ctx, id, indices), "reencoding")

	if humanOutput {
		fmt.Printf("Paper %d now has topics %v\n", id, indices)
	} else {
		outputJSON(StatusResponse{Status: "reencoded"})
	}
	return nil
}

func runResize(cmd *cobra.Command, args []string) error {
	k, err := strconv.Atoi(args[0])
	if err != nil {
		exitWithError(ExitDataError, "invalid topic count %q", args[0])
	}

	ctx := cmd.Context()
	a := mustOpenApp(ctx)
	defer a.Close()

	from := a.engine.TopicCount()
	exitOnError(a.engine.Resize(ctx, k), "resizing")

	a.cfg.Topics = k
	if err := a.cfg.Save(a.root); err != nil {
		exitWithError(ExitConfigError, "storage now has %d topics but saving config failed: %v", k, err)
	}

	if humanOutput {
		fmt.Printf("Resized topic vectors from %d to %d\n", from, k)
	} else {
		outputJSON(ResizeResponse{Status: "resized", From: from, To: k})
	}
	return nil
}

// ResizeResponse is the response for resize.
type ResizeResponse struct {
	Status string `json:"status"`
	From   int    `json:"from"`
	To     int    `json:"to"`
}

// mustParseID parses a positive paper or journal ID, exits on error.
func mustParseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		exitWithError(ExitDataError, "invalid id %q", s)
	}
	return id
}
