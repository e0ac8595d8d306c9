// Package appversion reports the forgedash build version.
package appversion

import "runtime/debug"

// version is set at build time via -ldflags "-X forgedash/internal/appversion.version=...".
var version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var

// String returns the linked version, or the module version recorded by
// go install when none was linked in.
func String() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return version
}
