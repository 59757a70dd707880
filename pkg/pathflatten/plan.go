package pathflatten

type Plan struct {
	// ProtectedNames are top-level file names a nested file may never replace.
	ProtectedNames []string

	// Global Flags
	DryRun  bool
	Metrics bool
}
