package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"coursekb/internal/domain"
)

var (
	searchText     string
	searchTopK     int
	searchDocTypes []string

	pointsLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search a course",
	Long: `Search a course with hybrid vector + BM25 retrieval and optional reranking.

Examples:
  coursekb search -c algo101 -q "quicksort pivot"
  coursekb search -c algo101 -q "归并排序" --top-k 10 --type pdf --json`,
	RunE: runSearch,
}

var pointsCmd = &cobra.Command{
	Use:   "points",
	Short: "List the knowledge points of a course",
	RunE:  runPoints,
}

func init() {
	rootCmd.AddCommand(searchCmd, pointsCmd)

	searchCmd.Flags().StringVarP(&searchText, "query", "q", "", "search query (required)")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of results (default from config)")
	searchCmd.Flags().StringSliceVar(&searchDocTypes, "type", nil, "restrict to document types")
	searchCmd.MarkFlagRequired("query")

	pointsCmd.Flags().IntVar(&pointsLimit, "limit", 0, "number of points (default from config)")
	pointsCmd.Flags().Bool("llm", false, "force LLM extraction on or off")
}

func runSearch(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}
	kb, cleanup, err := openKnowledgeBase()
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := kb.Search(cmd.Context(), courseID, searchText, searchTopK, domain.SearchFilter{DocTypes: searchDocTypes})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if asJSON {
		return printJSON(results)
	}
	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s\n\n", len(results), searchText)
	for i, r := range results {
		fmt.Printf("%d. %s [%s]\n", i+1, r.TitlePath, r.SourceDocType)
		fmt.Printf("   distance=%.4f%s\n", r.Score, scoreSuffix(r))
		fmt.Printf("   %s\n\n", preview(r.Content, 240))
	}
	return nil
}

func scoreSuffix(r domain.SearchResult) string {
	s := ""
	if r.BM25Score != nil {
		s += fmt.Sprintf(" bm25=%.4f", *r.BM25Score)
	}
	if r.HybridScore != nil {
		s += fmt.Sprintf(" hybrid=%.4f", *r.HybridScore)
	}
	if r.RerankScore != nil {
		s += fmt.Sprintf(" rerank=%.4f", *r.RerankScore)
	}
	return s
}

func runPoints(cmd *cobra.Command, args []string) error {
	if err := requireCourse(); err != nil {
		return err
	}
	limit := pointsLimit
	if !cmd.Flags().Changed("limit") {
		limit = GetConfig().Knowledge.Limit
	}

	kb, cleanup, err := openKnowledgeBase()
	if err != nil {
		return err
	}
	defer cleanup()

	points, err := kb.KnowledgePoints(cmd.Context(), courseID, limit, llmOverride(cmd))
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(points)
	}
	for i, p := range points {
		fmt.Printf("%2d. %s\n", i+1, p)
	}
	return nil
}
