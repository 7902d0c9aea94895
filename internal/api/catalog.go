package api

import (
	"net/http"
	"sort"
	"strings"

	tirextracker "github.com/tira-io/tirex-tracker"
)

type catalogAPI struct {
	tracker *tirextracker.Tracker
}

func (a *catalogAPI) providers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.tracker.ListProviders())
}

func (a *catalogAPI) measures(w http.ResponseWriter, r *http.Request) {
	infos := a.tracker.MeasureInfos()
	out := make([]tirextracker.MeasureInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Measure < out[j].Measure })
	writeJSON(w, http.StatusOK, out)
}

// info reads instant values. Measures come from repeated or comma-separated
// "measure" parameters; none means every measure.
func (a *catalogAPI) info(w http.ResponseWriter, r *http.Request) {
	measures, err := parseMeasureList(a.tracker, r.URL.Query()["measure"])
	if err != nil {
		writeError(w, err)
		return
	}
	results, err := a.tracker.FetchInfo(r.Context(), measures)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func parseMeasureList(tracker *tirextracker.Tracker, params []string) ([]tirextracker.Measure, error) {
	var names []string
	for _, p := range params {
		for _, n := range strings.Split(p, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	if len(names) == 0 {
		return tracker.ListMeasures(), nil
	}
	return tracker.Catalog().ParseMeasures(names)
}
