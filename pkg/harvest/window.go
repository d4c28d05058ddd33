package harvest

import (
	"time"

	"github.com/Ramsey-B/mef/pkg/models"
)

// Window is the half-open interval [From, Until).
type Window struct {
	From  time.Time `json:"from"`
	Until time.Time `json:"until"`
}

// Windows splits [from, until) into consecutive windows of span. The last one is
// cut at until.
func Windows(from, until time.Time, span time.Duration) []Window {
	if span <= 0 || !from.Before(until) {
		return nil
	}
	var out []Window
	for start := from; start.Before(until); start = start.Add(span) {
		end := start.Add(span)
		if end.After(until) {
			end = until
		}
		out = append(out, Window{From: start, Until: end})
	}
	return out
}

// WindowReport is the outcome of one window.
type WindowReport struct {
	Window
	Counters models.Counters `json:"counters"`
	// Partial is set when the window was aborted; Counters cover what ran.
	Partial  bool   `json:"partial"`
	Error    string `json:"error,omitempty"`
	Snapshot string `json:"snapshot,omitempty"`
}

// Report is the outcome of one Harvest call.
type Report struct {
	Source   models.Source   `json:"source"`
	Kind     models.Kind     `json:"kind"`
	Windows  []WindowReport  `json:"windows"`
	Counters models.Counters `json:"counters"`
}

func (r *Report) add(w WindowReport) {
	r.Windows = append(r.Windows, w)
	r.Counters.Add(w.Counters)
}
