package version

// Build metadata, overridden at link time:
//
//	go build -ldflags "-X github.com/chmdznr/oss-mirror-sync/pkg/version.Version=v1.2.0 ..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String returns the one-line form printed by --version.
func String() string {
	return Version + " (" + GitCommit + ", built " + BuildTime + ")"
}
