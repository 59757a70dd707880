package preflight

type Plan struct {
	InputAccessible    bool
	OutputAccessible   bool
	OutputWritable     bool
	PathNesting        bool
	EnsureOutputExists bool

	// MinFreeSpaceMB is the free space below which a warning is logged. Zero disables the check.
	MinFreeSpaceMB int64

	// Global Flags
	DryRun  bool
	Metrics bool
}
