package exitcode

// Process exit codes. PartialSuccess means the batch ran to the end but at
// least one download failed.
const (
	Success           = 0
	RuntimeFailure    = 1
	InvalidUsage      = 2
	InvalidConfig     = 3
	MissingDependency = 4
	PartialSuccess    = 5
	DaemonUnreachable = 6
	Interrupted       = 130
)
