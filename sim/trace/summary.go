package trace

// TraceSummary aggregates statistics from a BatchTrace.
type TraceSummary struct {
	TotalTransitions   int
	ReplicaOutcomes    map[State]int // terminal state → replica count
	MeanRunMs          float64       // over replicas that left running
	MaxRunMs           int64
	UniqueWorkers      int
	WorkerDistribution map[int]int // worker → experiments started
	FailureReasons     map[string]int
}

// Summarize computes aggregate statistics from a BatchTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(bt *BatchTrace) *TraceSummary {
	summary := &TraceSummary{
		ReplicaOutcomes:    make(map[State]int),
		WorkerDistribution: make(map[int]int),
		FailureReasons:     make(map[string]int),
	}
	if bt == nil {
		return summary
	}

	summary.TotalTransitions = len(bt.Transitions)
	var runs int
	var totalRun int64
	for _, t := range bt.Transitions {
		if t.To == StateRunning && t.Replica == 0 {
			summary.WorkerDistribution[t.Worker]++
		}
		if !t.To.Terminal() {
			continue
		}
		summary.ReplicaOutcomes[t.To]++
		if t.To == StateFailed {
			summary.FailureReasons[t.Reason]++
		}
		if t.From == StateRunning {
			runs++
			totalRun += t.ElapsedMs
			if t.ElapsedMs > summary.MaxRunMs {
				summary.MaxRunMs = t.ElapsedMs
			}
		}
	}
	if runs > 0 {
		summary.MeanRunMs = float64(totalRun) / float64(runs)
	}

	summary.UniqueWorkers = len(summary.WorkerDistribution)

	return summary
}
