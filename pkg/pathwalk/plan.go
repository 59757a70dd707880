package pathwalk

type Plan struct {
	// ExcludeDirs are absolute directories that are never descended into.
	ExcludeDirs []string
}
