package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-cli/internal/model"
)

var phasesCmd = &cobra.Command{
	Use:   "phases",
	Short: "List phases in canonical order with their prerequisites",
	RunE: func(cmd *cobra.Command, args []string) error {
		formatPhases(os.Stdout)
		return nil
	},
}

func formatPhases(out io.Writer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tPHASE\tREQUIRES")
	for _, p := range model.AllPhases {
		reqs := make([]string, 0, len(p.Requires()))
		for _, r := range p.Requires() {
			reqs = append(reqs, string(r))
		}
		req := strings.Join(reqs, ", ")
		if req == "" {
			req = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", p.Index()+1, p, req)
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(phasesCmd)
}
