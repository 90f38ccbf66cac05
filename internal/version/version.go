// Package version holds build-time identification, set via -ldflags at
// build time (replaces the teacher's github.com/perforce/p4prometheus/version
// import with a local equivalent carrying no Perforce-specific content).
package version

import "fmt"

var (
	Version   = "dev"
	Revision  = "none"
	BuildTime = "unknown"
)

// Print renders name plus the build identification, in the form the
// teacher's CLI banner expects.
func Print(name string) string {
	return fmt.Sprintf("%s\nVersion:    %s\nRevision:   %s\nBuild time: %s\n", name, Version, Revision, BuildTime)
}
