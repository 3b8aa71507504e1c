// Package sim provides the core vocabulary of the LTE MAC simulator.
//
// # Reading Guide
//
// Start with these files to understand the data model:
//   - ids.go: node, connection and radio identifiers (MacCID, Direction, Codeword, Band)
//   - message.go: everything that crosses the channel between nodes (PDUs, grants, HARQ feedback, RAC)
//   - queue.go: virtual (size-only) and real (SDU-holding) per-connection queues
//   - config.go: MAC parameter groups and their defaults
//
// # Architecture
//
// The sim package defines the shared types; behavior lives in sub-packages:
//   - sim/amc/: link adaptation (CQI to bytes per resource block, MU-MIMO pairing)
//   - sim/alloc/: per-TTI resource block grid and frequency-reuse band bookkeeping
//   - sim/harq/: HARQ transmit, receive and D2D mirror buffers
//   - sim/sched/: scheduling disciplines, band booking and the terminal LCG scheduler
//   - sim/mac/: base-station and terminal per-TTI orchestrators
//   - sim/cell/: event loop, channel and upper-layer stubs that drive a single cell
//   - sim/trace/: decision trace recording
//   - sim/observability/: Prometheus counters and OpenTelemetry tracing
//
// # Determinism
//
// All randomness flows from a PartitionedRNG seeded by the scenario. Two runs with the
// same seed and scenario produce identical grants, HARQ outcomes and metrics.
package sim
