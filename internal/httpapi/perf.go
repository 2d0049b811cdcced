package httpapi

import (
	"net/http"
	"strings"

	"github.com/ent0n29/callrelay/internal/observability"
)

// handlePerfLatency serves the rolling relay stage window. ?stage= limits the
// response to one stage.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	var snap observability.StageSnapshot
	if s.metrics != nil {
		snap = s.metrics.LatencySnapshot()
	}
	if snap.Stages == nil {
		snap.Stages = []observability.StageStats{}
	}
	if stage := strings.TrimSpace(r.URL.Query().Get("stage")); stage != "" {
		filtered := []observability.StageStats{}
		for _, st := range snap.Stages {
			if st.Stage == stage {
				filtered = append(filtered, st)
			}
		}
		snap.Stages = filtered
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"active_calls": s.relay.Registry().Count(),
		"latency":      snap,
	})
}
