package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/raaihank/arguana-embed/internal/embeddings"
	"github.com/raaihank/arguana-embed/internal/store"
)

func newSearchCommand(a *app) *cobra.Command {
	var (
		limit         int
		minSimilarity float32
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find stored texts closest to a query",
		Long: `Embed the query with the configured model and return the nearest
texts embedded earlier by the same model, ordered by cosine similarity.`,
		Example: `  arguana-embed search "school uniforms limit self-expression" --limit 5`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			ctx := cmd.Context()

			svc, err := a.openServices(false, true)
			if err != nil {
				return err
			}
			defer svc.close(a.log.Logger)

			opts, err := a.embedOptions()
			if err != nil {
				return err
			}

			model, err := a.loadModel(ctx)
			if err != nil {
				return err
			}
			defer model.Close()

			vectors, err := embeddings.GetEmbeddings(ctx, model, []string{query}, opts)
			if err != nil {
				return err
			}

			results, err := svc.store.FindSimilar(ctx, vectors[query], &store.SearchOptions{
				Model:         model.CacheKey(),
				Limit:         limit,
				MinSimilarity: minSimilarity,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIMILARITY\tTEXT")
			for _, res := range results {
				fmt.Fprintf(w, "%.4f\t%s\n", res.Similarity, truncate(res.Record.Text, 100))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results")
	cmd.Flags().Float32Var(&minSimilarity, "min-similarity", 0, "drop results below this cosine similarity")
	return cmd
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
