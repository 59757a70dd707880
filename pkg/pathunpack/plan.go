package pathunpack

type Plan struct {
	Overwrite OverwriteBehavior

	// Global Flags
	DryRun  bool
	Metrics bool
}
