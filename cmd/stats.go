package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-cli/internal/enrich"
	"github.com/sells-group/enrich-cli/internal/model"
)

var statsJSON bool

// PhaseCount is the completion count of one phase.
type PhaseCount struct {
	Phase model.Phase `json:"phase"`
	Done  int         `json:"done"`
}

// Stats aggregates record state over the entity list.
type Stats struct {
	Entities   int            `json:"entities"`
	Records    int            `json:"records"`
	Phases     []PhaseCount   `json:"phases"`
	States     map[string]int `json:"states"`
	GeoSources map[string]int `json:"geo_sources"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show phase completion and geocoding statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		list, err := loadEntities(ctx, cfg)
		if err != nil {
			return err
		}
		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, err := st.List(ctx)
		if err != nil {
			return eris.Wrap(err, "stats: list records")
		}

		s := computeStats(list, recs)
		if statsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}
		formatStats(os.Stdout, s)
		return nil
	},
}

// computeStats counts completed phases, state-machine positions, and geo
// sources for the given entities. Records of entities not in the list are
// ignored; entities without a record are not_started.
func computeStats(list []model.Entity, recs []*model.EnrichmentRecord) Stats {
	byID := make(map[string]*model.EnrichmentRecord, len(recs))
	for _, r := range recs {
		byID[r.EntityID] = r
	}

	s := Stats{
		Entities:   len(list),
		States:     make(map[string]int),
		GeoSources: make(map[string]int),
	}
	done := make(map[model.Phase]int, len(model.AllPhases))
	for _, e := range list {
		rec := byID[e.ID]
		if rec == nil {
			s.States[model.StateNotStarted]++
			continue
		}
		s.Records++
		s.States[rec.State()]++
		for _, p := range rec.CompletedPhases() {
			done[p]++
		}
		var geo enrich.GeoPayload
		if ok, err := rec.DecodePayload(model.PhaseGeo, &geo); ok && err == nil {
			key := geo.Source
			if key == "" {
				key = string(geo.Status)
			}
			s.GeoSources[key]++
		}
	}
	for _, p := range model.AllPhases {
		s.Phases = append(s.Phases, PhaseCount{Phase: p, Done: done[p]})
	}
	return s
}

func percent(n, total int) string {
	if total == 0 {
		return "-"
	}
	return humanize.FtoaWithDigits(float64(n)*100/float64(total), 1) + "%"
}

func formatStats(out io.Writer, s Stats) {
	_, _ = fmt.Fprintf(out, "Entities: %s  Records: %s\n\n", humanize.Comma(int64(s.Entities)), humanize.Comma(int64(s.Records)))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PHASE\tDONE\tPCT")
	for _, pc := range s.Phases {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", pc.Phase, humanize.Comma(int64(pc.Done)), percent(pc.Done, s.Entities))
	}
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STATE\tENTITIES")
	for _, k := range stateOrder(s.States) {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", k, humanize.Comma(int64(s.States[k])))
	}
	_ = w.Flush()

	if len(s.GeoSources) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "GEO SOURCE\tENTITIES")
	keys := make([]string, 0, len(s.GeoSources))
	for k := range s.GeoSources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", k, humanize.Comma(int64(s.GeoSources[k])))
	}
	_ = w.Flush()
}

// stateOrder lists states in phase order, not_started first.
func stateOrder(states map[string]int) []string {
	var out []string
	if _, ok := states[model.StateNotStarted]; ok {
		out = append(out, model.StateNotStarted)
	}
	for _, p := range model.AllPhases {
		k := string(p) + "_done"
		if _, ok := states[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print statistics as JSON")
	rootCmd.AddCommand(statsCmd)
}
