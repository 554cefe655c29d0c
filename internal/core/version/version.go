// Package version reports build information stamped at link time
package version

// BuildInfo describes the running binary
type BuildInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Info returns the build information. Set with
// -ldflags "-X mquery/internal/core/version.version=v0.1.0 -X mquery/internal/core/version.commit=abcd"
func Info() BuildInfo {
	return BuildInfo{
		Service: service,
		Version: version,
		Commit:  commit,
		Date:    date,
	}
}

// SetService names the binary in Info; mains call it before serving
func SetService(name string) {
	if name != "" {
		service = name
	}
}

var (
	service = "mquery"
	version = "dev"
	commit  = "none"
	date    = "unknown"
)
