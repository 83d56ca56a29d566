package app

import "runtime/debug"

// CommitHash returns the VCS revision baked in at build time, or "dev".
func CommitHash() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return setting.Value
			}
		}
	}
	return "dev"
}
