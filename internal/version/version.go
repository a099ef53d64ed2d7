// Package version carries the build version, set with -ldflags.
package version

// Version is overridden at link time:
//
//	go build -ldflags "-X github.com/seeyonai/summit-sub000/internal/version.Version=v1.2.0"
var Version = "dev"

const Name = "summit"

// String returns "summit <version>".
func String() string { return Name + " " + Version }
