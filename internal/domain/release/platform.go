package release

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Platform is the manifest key of a release target.
type Platform string

const (
	// PlatformWindows is the Windows desktop build.
	PlatformWindows Platform = "win32"
	// PlatformDarwin is the macOS desktop build.
	PlatformDarwin Platform = "darwin"
	// PlatformLinux is the Linux desktop build.
	PlatformLinux Platform = "linux"
	// PlatformSource is the source archive and the fallback for unknown hosts.
	PlatformSource Platform = "source"
)

// ErrUnknownPlatform is returned for unsupported platform names.
var ErrUnknownPlatform = errors.New("unknown platform")

// RequiredPlatforms lists the desktop targets every release must ship before
// the latest manifest may advertise it.
func RequiredPlatforms() []Platform {
	return []Platform{PlatformWindows, PlatformDarwin, PlatformLinux}
}

// ParsePlatform validates a platform name.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformWindows, PlatformDarwin, PlatformLinux, PlatformSource:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
	}
}

// PlatformFor maps a GOOS value to its manifest key.
func PlatformFor(goos string) Platform {
	switch goos {
	case "windows":
		return PlatformWindows
	case "darwin":
		return PlatformDarwin
	case "linux":
		return PlatformLinux
	default:
		return PlatformSource
	}
}

// CurrentPlatform returns the manifest key for the running binary. A run
// from sources (not a frozen build) always updates from the source archive.
func CurrentPlatform(frozen bool) Platform {
	if !frozen {
		return PlatformSource
	}

	return PlatformFor(runtime.GOOS)
}
