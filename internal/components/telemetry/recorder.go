package telemetry

import (
	"fmt"
	"strings"
	"sync"
)

// Report is a single call made against a Recorder.
type Report struct {
	Kind   string
	ID     string
	Params []any
}

// Recorder is an in-memory API used to assert on reported telemetry in tests.
type Recorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *Recorder) add(kind, id string, params []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, Report{Kind: kind, ID: id, Params: params})
}

func (r *Recorder) ReportBroken(id string, params ...any)  { r.add("broken", id, params) }
func (r *Recorder) ReportWarning(id string, params ...any) { r.add("warning", id, params) }
func (r *Recorder) ReportDebug(msg string, params ...any)  { r.add("debug", msg, params) }
func (r *Recorder) ReportCount(id string, count int64)     { r.add("count", id, []any{count}) }

// Reports returns a copy of every report of the given kind ("broken", "warning", "debug", "count").
func (r *Recorder) Reports(kind string) []Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Report
	for _, rep := range r.reports {
		if rep.Kind == kind {
			out = append(out, rep)
		}
	}
	return out
}

// Broken reports whether a broken report whose id ends with `suffix` was made.
func (r *Recorder) Broken(suffix string) bool {
	for _, rep := range r.Reports("broken") {
		if strings.HasSuffix(rep.ID, suffix) {
			return true
		}
	}
	return false
}

func (r *Recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out strings.Builder
	for _, rep := range r.reports {
		fmt.Fprintf(&out, "%s %s %v\n", rep.Kind, rep.ID, rep.Params)
	}
	return out.String()
}
