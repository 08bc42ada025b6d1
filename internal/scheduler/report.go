package scheduler

import (
	"time"

	"github.com/vk/weftgo/internal/graph"
	"github.com/vk/weftgo/internal/invalidate"
)

// NodeReport is the per-node outcome of a run.
type NodeReport struct {
	ID       string
	Status   graph.Status
	Reason   invalidate.Reason
	Duration time.Duration
	Bytes    int64
	Warnings []string
	Error    string
}

// RunReport summarizes a whole run. Nodes appear in deterministic graph
// order. Successful nodes from a failed run are already persisted and stay
// usable on the next invocation.
type RunReport struct {
	Started  time.Time
	Finished time.Time
	Nodes    []NodeReport
	// Failed is set when any node errored. Nodes left pending were blocked
	// behind an errored ancestor.
	Failed bool
}

// Errored returns the IDs of errored nodes.
func (r *RunReport) Errored() []string {
	var out []string
	for _, n := range r.Nodes {
		if n.Status == graph.StatusErrored {
			out = append(out, n.ID)
		}
	}
	return out
}

// Node returns the report entry for an ID.
func (r *RunReport) Node(id string) (NodeReport, bool) {
	for _, n := range r.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeReport{}, false
}

func (e *Executor) buildReport(started time.Time) *RunReport {
	report := &RunReport{Started: started, Finished: time.Now()}
	for _, n := range e.graph.NodesInOrder() {
		if !e.isActive(n.ID) {
			continue
		}
		entry := NodeReport{
			ID:       n.ID,
			Status:   n.Status,
			Reason:   e.reasons[n.ID],
			Duration: n.Duration,
			Bytes:    n.Bytes,
			Warnings: n.Warnings,
		}
		if n.Err != nil {
			entry.Error = n.Err.Error()
		}
		if n.Status == graph.StatusErrored {
			report.Failed = true
		}
		report.Nodes = append(report.Nodes, entry)
	}
	return report
}
