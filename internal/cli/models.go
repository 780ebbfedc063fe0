package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/raaihank/arguana-embed/internal/embeddings"
)

func newModelsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the supported model families",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CURRENT\tNAME\tREPO\tTOKENIZER\tPOOLING\tNORMALIZED")

			for _, f := range embeddings.Families() {
				current := ""
				if a.cfg != nil && f.Name == a.cfg.Model.Name {
					current = "*"
				}
				repo := f.Repo
				if f.AdapterRepo != "" {
					repo += " + " + f.AdapterRepo
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
					current, f.Name, repo, f.Tokenizer, f.Pooling, f.Normalize)
			}
			return w.Flush()
		},
	}
}
