// Package version implements helper functions for the stored build version.
package version

import (
	"fmt"
	"runtime"
)

// Version is the gateway's build version (e.g. "1.0.0"), injected via LDFLAGS.
var Version = "dev"

// UserAgent returns a user-agent string naming the build version and the
// OS/architecture.
func UserAgent() string {
	return fmt.Sprintf("flightgw/%s (%s, %s)", Version, runtime.GOOS, runtime.GOARCH)
}
