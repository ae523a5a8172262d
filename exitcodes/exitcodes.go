// Package exitcodes defines the standard exit codes used by op-isorun.
package exitcodes

// Exit code constants used by op-isorun.
//
// * Success (0): every file in the shard passed
// * TestFailure (1): one or more files failed or could not be launched
// * RuntimeErr (2): the run was aborted before any file ran (bad shard spec, bad config)
const (
	Success     = 0 // All files pass
	TestFailure = 1 // File failures
	RuntimeErr  = 2 // Runtime or configuration errors
)
