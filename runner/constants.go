package runner

// Child command line
const (
	// ExecCommand is the hidden subcommand that runs a single file inside the child process
	ExecCommand = "exec"

	LoadPathFlag  = "-I"
	StrictFlag    = "-w"
	HelperFlag    = "--helper"
	ArgsSeparator = "--"
)

// Console markers. CI log folding depends on these exact strings.
const (
	FileBannerPrefix = "--- "
	FailureMarker    = "^^^ +++"
	CompletedBanner  = "--- All tests completed"
	FailedInHeader   = "Failed in:"
)

// defaultOutputTailBytes bounds the child output kept in memory per file
const defaultOutputTailBytes = 64 * 1024
