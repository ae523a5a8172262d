// Package runner provides the components that execute a shard of test files,
// one child process per file.
//
// The main components are:
//   - ProcessLauncher: starts one child process per file, streams its output and classifies its exit
//   - Aggregator: records per-file outcomes in launch order and prints the final summary
//   - Runner: walks the shard sequentially, wiring launcher, aggregator, metrics and file logs together
//
// Files are never run concurrently within one shard; parallelism comes from
// running several independent workers, each on its own shard.
package runner
