// Package sim runs batches of network-caching experiments against an
// external simulation engine.
//
// # Reading Guide
//
// Start with these files to understand the orchestration layer:
//   - tree/tree.go: the ordered, auto-vivifying configuration tree
//   - experiment/queue.go: FIFO experiment queue and stable experiment IDs
//   - dispatch/dispatcher.go: replica scheduling, failure isolation, cancellation
//   - batch.go: Run, the single entry point tying everything together
//
// # Architecture
//
// The sim package holds the run configuration and the Run entry point;
// everything else lives in sub-packages:
//   - sim/tree/: configuration tree, flatten/unflatten, content hash
//   - sim/experiment/: experiments, queue, replica seeds, YAML/HCL descriptors
//   - sim/collector/: collector name → capability registry
//   - sim/engine/: engine contract and in-process, subprocess and gRPC adapters
//   - sim/dispatch/: sequential and worker-pool substrates, the dispatcher
//   - sim/results/: records, aggregation, serializers, replica statistics
//   - sim/trace/: replica lifecycle trace
//
// # Key Interfaces
//
//   - engine.Engine: run one replica of one experiment
//   - dispatch.Substrate: where experiments execute (caller goroutine or pool)
//   - results.Serializer: how a finished ResultSet is persisted
package sim
