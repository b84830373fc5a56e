package version

var (
	UnreleasedVersion = "dev"
	// Version is the current version of the code.  It is filled in at link time with
	// -ldflags "-X github.com/treeverse/vcsgate/pkg/version.Version=...".
	Version = "dev"
)
