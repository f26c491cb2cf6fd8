package version

import (
	"fmt"
	"strings"
	"time"
)

const (
	// Unknown is used when build metadata is not provided.
	Unknown = "unknown"
	// DevelopmentVersion is the default version in local builds.
	DevelopmentVersion = "dev"
	// DefaultService names the service when the caller does not.
	DefaultService = "objectbank"
)

var (
	// AppVersion is set at build time:
	// go build -ldflags="-X github.com/nimburion/objectbank/pkg/version.AppVersion=v0.3.0"
	AppVersion = DevelopmentVersion

	// GitCommit is set at build time.
	GitCommit = Unknown

	// BuildTime is set at build time, RFC3339.
	BuildTime = Unknown
)

// Info describes the running bankctl build.
type Info struct {
	Service   string `json:"service" yaml:"service"`
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
}

// Current returns the build metadata for serviceName.
func Current(serviceName string) Info {
	return Info{
		Service:   normalizeOrDefault(serviceName, DefaultService),
		Version:   normalizeOrDefault(AppVersion, DevelopmentVersion),
		Commit:    normalizeOrDefault(GitCommit, Unknown),
		BuildTime: normalizeOrDefault(BuildTime, Unknown),
	}
}

// IsDevelopment reports whether the build carries no release version.
func (i Info) IsDevelopment() bool {
	return i.Version == "" || i.Version == DevelopmentVersion
}

// ParseBuildTime parses BuildTime as RFC3339 if present.
func (i Info) ParseBuildTime() (time.Time, bool) {
	if i.BuildTime == "" || i.BuildTime == Unknown {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, i.BuildTime)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// LogFields returns the metadata as logger key/value pairs.
func (i Info) LogFields() []any {
	return []any{
		"service", i.Service,
		"version", i.Version,
		"commit", i.Commit,
		"build_time", i.BuildTime,
	}
}

// AppID identifies this build to backing stores, e.g. "objectbank/v0.3.0". S3, DynamoDB, MongoDB
// and Redis clients send it so server-side logs show which bank build made a request.
func AppID() string {
	return DefaultService + "/" + normalizeOrDefault(AppVersion, DevelopmentVersion)
}

// String returns a log-friendly representation.
func (i Info) String() string {
	return fmt.Sprintf("%s@%s (commit=%s, build_time=%s)", i.Service, i.Version, i.Commit, i.BuildTime)
}

func normalizeOrDefault(v, fallback string) string {
	norm := strings.TrimSpace(v)
	if norm == "" {
		return fallback
	}
	return norm
}
