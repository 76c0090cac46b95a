// Package version holds the version of the library and binaries.
package version

// Version is the symbolic version, set at build time with
// -ldflags "-X github.com/filecatalog/speedtest/pkg/version.Version=...".
var Version = "dev"
