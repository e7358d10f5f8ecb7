// Package build holds version information set at build time with
// -ldflags "-X github.com/drummonds/flipbook/internal/build.Version=..."
package build

// Version info - can be set at build time with -ldflags
var (
	Version   = "dev"
	BuildDate = ""
)
